// Package recorder captures the SQL statements issued while serving a single
// HTTP request and persists them as one trace.
//
// A database/sql driver is wrapped once per process (Register). Each request
// that starts while recording is switched on gets its own Recorder, carried
// in the request's context.Context; the wrapped driver looks the Recorder up
// from the context of every Exec/Query call, so concurrent requests never see
// each other's calls and requests without a Recorder run straight through.
//
// Usage:
//
//	name := recorder.Register("sqlite3", &sqlite3.SQLiteDriver{})
//	db, _ := sql.Open(name, "file:app.db")
//
//	ctrl := recorder.NewController(store)
//	ctx, rec, _ := ctrl.Start(ctx, func() recorder.RequestMeta { return recorder.MetaFromRequest(r) })
//	db.QueryContext(ctx, "SELECT 1")
//	ctrl.Finish(ctx, rec)
package recorder
