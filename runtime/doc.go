// Package runtime implements the in-process topic message bus a query run
// is executed on.
//
// A Runtime owns two registries: agents (keyed by core.AgentID) and
// subscriptions (binding core.TopicID values to agents). Publishing a
// message resolves its recipients once, under the registry lock, and
// appends an envelope to each recipient's mailbox. Every agent drains its
// mailbox on a dedicated worker, so handlers of one agent never overlap
// while different agents make progress concurrently.
//
// # Delivery Guarantees
//
//   - Per-recipient FIFO: messages published by one sender arrive at each
//     recipient in publish order
//   - At-most-once: a delivery is attempted once; failures are reported, not
//     retried
//   - Orphans: a publish with no subscriber is dropped, counted and passed
//     to CallbackOnOrphan
//
// # Termination
//
// The runtime tracks deliveries that are queued or executing. StopWhenIdle
// returns as soon as that count reaches zero, which is the natural end of a
// pipeline. StopWhenSignal stops on cancellation instead. Close releases
// agent resources and fails any direct send still queued.
//
// # Usage
//
//	rt := runtime.New(func(o *runtime.Options) { o.Token = token })
//	_ = rt.RegisterFactory("sql_generator", newGenerator)
//	_ = rt.Subscribe(runtime.TypeSubscription{TopicType: "sql_generator", AgentType: "sql_generator"})
//	_ = rt.Start()
//	_ = rt.Publish(ctx, msg, core.NewTopicID("sql_generator", runID), nil)
//	_ = rt.StopWhenIdle(ctx)
//	_ = rt.Close(ctx)
package runtime
