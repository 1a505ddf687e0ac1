package signal

func (ctl *SignalWSController) handlePing(conn *WsSignalConn, req request) {
	ctl.sendJSON(conn, result{ID: req.ID, Type: "result"})
}
