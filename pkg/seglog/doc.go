// Package seglog is an append-only store of topic/partition logs backed by
// immutable segments.
//
// Producers append records through an [Agent], which buffers them in memory.
// [Agent.Flush] packs every buffered partition into one new segment, writes
// it to [segment.Storage] and then commits one batch per partition to the
// shared [MetadataStore]. Each committed record gets a 1-based logical offset
// that is contiguous within its partition. [Agent.Read] resolves an offset
// range to byte windows through the index, fetches them and splits them back
// into records.
//
// Buffered records are invisible to readers. A record becomes readable when
// the index write of its flush returns.
//
// [Log] wires the pieces to a data directory: it owns the directory lock,
// the segment storage and a SQLite catalog that makes the index survive
// restarts.
//
// Basic usage:
//
//	l, err := seglog.Open(ctx, seglog.Config{DataDir: ".seglog-data"})
//	if err != nil {
//	    return err
//	}
//	defer l.Close()
//
//	agent, _ := l.NewAgent("producer-1")
//	_ = agent.Write("orders", "0", []byte("hello"))
//	if _, err := agent.Flush(ctx); err != nil {
//	    return err
//	}
//
//	res, err := agent.Read(ctx, "orders", "0", seglog.OffsetRange{Start: 1, End: 1})
package seglog
