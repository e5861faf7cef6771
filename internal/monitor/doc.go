// Package monitor is the live terminal view of a running capture listener.
//
// It is a Bubble Tea program that polls the server every RefreshInterval and
// shows the admitted sessions in a table, with their byte, record and
// zero-payload counters, next to a feed of the most recent server events.
//
//	feed := monitor.NewFeed(monitor.DefaultFeedSize)
//	srv, _ := server.New(cfg, server.WithEventSink(feed))
//	...
//	final, err := tea.NewProgram(monitor.NewModel(srv, feed, cfg.LogFile)).Run()
//
// The program quits on its own when the server closes. Pressing q quits it
// with Model.Stopped set, and the caller is expected to shut the server down.
package monitor
