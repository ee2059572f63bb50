package seglog_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/calvinalkan/seglog/internal/testutil"
	"github.com/calvinalkan/seglog/pkg/seglog"
	"github.com/calvinalkan/seglog/pkg/segment"
)

var (
	fuzzTopics     = []string{"orders", "events"}
	fuzzPartitions = []string{"0", "1", "2"}
)

type fuzzKey struct{ topic, partition string }

// fuzzModel is the oracle: committed records per partition plus what the
// agent has buffered but not flushed.
type fuzzModel struct {
	committed map[fuzzKey][][]byte
	pending   map[fuzzKey][][]byte
}

// FuzzAgent_ModelVsReal drives one agent with writes, flushes and reads
// and checks every result against an in-memory model.
func FuzzAgent_ModelVsReal(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte{0x00, 0x00, 0x00, 0x03, 'a', 'b', 'c', 0x01, 0x02, 0x00, 0x00, 0x01, 0x01})
	// write orders/0 "x", write orders/0 "", flush, write orders/0 "yz",
	// read [2, 3] before the flush, flush, read [2, 3].
	f.Add([]byte{
		0x00, 0x00, 0x00, 0x01, 'x',
		0x00, 0x00, 0x00, 0x00,
		0x01,
		0x00, 0x00, 0x00, 0x02, 'y', 'z',
		0x02, 0x00, 0x00, 0x02, 0x03,
		0x01,
		0x02, 0x00, 0x00, 0x02, 0x03,
	})
	f.Add(make([]byte, 64))

	f.Fuzz(func(t *testing.T, data []byte) {
		stream := testutil.NewByteStream(data)

		index := seglog.NewMetadataStore(seglog.IndexOptions{})

		agent, err := seglog.NewAgent(seglog.AgentConfig{
			ID:             "fuzz",
			Index:          index,
			Storage:        segment.NewMemory(),
			NewSegmentName: sequentialNames(),
		})
		if err != nil {
			t.Fatalf("NewAgent: %v", err)
		}

		model := fuzzModel{
			committed: map[fuzzKey][][]byte{},
			pending:   map[fuzzKey][][]byte{},
		}

		for ops := 0; stream.HasMore() && ops < 200; ops++ {
			switch stream.NextInt(3) {
			case 0:
				key := fuzzKey{stream.NextPick(fuzzTopics), stream.NextPick(fuzzPartitions)}
				payload := stream.NextPayload(8)

				if err := agent.Write(key.topic, key.partition, payload); err != nil {
					t.Fatalf("Write: %v", err)
				}

				model.pending[key] = append(model.pending[key], payload)
			case 1:
				checkFlush(t, agent, &model)
			case 2:
				key := fuzzKey{stream.NextPick(fuzzTopics), stream.NextPick(fuzzPartitions)}
				n := uint64(len(model.committed[key]))
				rng := seglog.OffsetRange{
					Start: uint64(stream.NextInt(int(n) + 2)),
					End:   uint64(stream.NextInt(int(n) + 2)),
				}

				checkRead(t, agent, model, key, rng)
			}
		}
	})
}

func checkFlush(t *testing.T, agent *seglog.Agent, model *fuzzModel) {
	t.Helper()

	res, err := agent.Flush(t.Context())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if len(model.pending) == 0 {
		if res.Segment != "" || len(res.Entries) != 0 {
			t.Fatalf("Flush with empty buffers=%+v, want zero result", res)
		}

		return
	}

	if got, want := len(res.Entries), len(model.pending); got != want {
		t.Fatalf("Flush entries=%d, want=%d", got, want)
	}

	for _, e := range res.Entries {
		key := fuzzKey{e.Topic, e.Partition}

		if got, want := e.BaseOffset, uint64(len(model.committed[key]))+1; got != want {
			t.Fatalf("%s/%s base=%d, want=%d", e.Topic, e.Partition, got, want)
		}

		if got, want := e.Batch.Records(), len(model.pending[key]); got != want {
			t.Fatalf("%s/%s records=%d, want=%d", e.Topic, e.Partition, got, want)
		}
	}

	for key, recs := range model.pending {
		model.committed[key] = append(model.committed[key], recs...)
	}

	clear(model.pending)

	if got := agent.Buffered(); len(got) != 0 {
		t.Fatalf("Buffered after flush=%v, want empty", got)
	}
}

func checkRead(t *testing.T, agent *seglog.Agent, model fuzzModel, key fuzzKey, rng seglog.OffsetRange) {
	t.Helper()

	committed := model.committed[key]
	n := uint64(len(committed))

	res, err := agent.Read(t.Context(), key.topic, key.partition, rng)

	var want error

	switch {
	case rng.Start == 0 || rng.Start > rng.End:
		want = seglog.ErrInvalidRange
	case n == 0:
		want = seglog.ErrUnknownTopicPartition
	case rng.End > n:
		want = seglog.ErrOffsetOutOfRange
	}

	if want != nil {
		if !errors.Is(err, want) {
			t.Fatalf("Read(%s/%s, %s) err=%v, want=%v", key.topic, key.partition, rng, err, want)
		}

		return
	}

	if err != nil {
		t.Fatalf("Read(%s/%s, %s): %v", key.topic, key.partition, rng, err)
	}

	wantRecs := committed[rng.Start-1 : rng.End]
	if diff := cmp.Diff(wantRecs, res.Records, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("Read(%s/%s, %s) records mismatch (-want +got):\n%s", key.topic, key.partition, rng, diff)
	}
}
