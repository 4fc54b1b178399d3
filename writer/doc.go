// Package writer implements the batched write path.
//
// A Writer queues records and writes them on Flush or Close, dispatching on
// the lifecycle state of every record:
//
//   - entity.StateNew records are inserted. Depending on the definition, the
//     database assigns a row id, an identity value or a sequence value, which
//     is read back onto the record.
//   - entity.StateModified records are updated by id.
//   - entity.StateDeleted records are deleted by id.
//   - entity.StatePersisted and entity.StateInitializing records are skipped.
//
// Statements are prepared once per entity definition and operation and
// reused for every row of that kind:
//
//	w, err := writer.Begin(ctx, p)
//	if err != nil {
//		return err
//	}
//	for _, rec := range recs {
//		if err := w.Write(ctx, rec); err != nil {
//			_ = w.Close(ctx)
//			return err
//		}
//	}
//	return w.Close(ctx) // flushes and commits
//
// A Writer is bound to one transaction. When the transaction was adopted
// from the caller (txn.Adopt), Close leaves it open; otherwise Close commits
// it and returns its connection to the pool.
package writer
