package store

import (
	"context"
	"errors"
	"testing"

	"github.com/roach88/mudbridge/internal/ir"
)

func TestReadRecord_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.ReadRecord(context.Background(), "Counter", "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestReadRecord_NormalizesKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.SetRecord(ctx, "Position", "0xABCD", ir.Object{"x": ir.Int(1)}, 1); err != nil {
		t.Fatal(err)
	}
	rec, err := s.ReadRecord(ctx, "Position", "0xabcd")
	if err != nil {
		t.Fatalf("ReadRecord() failed: %v", err)
	}
	if rec.Key != "0xabcd" {
		t.Errorf("Key = %q, want 0xabcd", rec.Key)
	}
}

func TestReadRecords_OrderedByKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"0x03", "0x01", "0x02"} {
		if _, err := s.SetRecord(ctx, "Position", key, ir.Object{"x": ir.Int(0)}, 1); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.SetRecord(ctx, "Counter", "", ir.Object{"value": ir.Int(1)}, 1); err != nil {
		t.Fatal(err)
	}

	recs, err := s.ReadRecords(ctx, "Position")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("len = %d, want 3", len(recs))
	}
	for i, want := range []string{"0x01", "0x02", "0x03"} {
		if recs[i].Key != want {
			t.Errorf("recs[%d].Key = %q, want %q", i, recs[i].Key, want)
		}
	}

	all, err := s.ReadRecords(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Errorf("len(all) = %d, want 4", len(all))
	}
	if all[0].Component != "Counter" {
		t.Errorf("all[0].Component = %q, want Counter", all[0].Component)
	}
}

func TestReadUpdatesAfter_SeqOrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		if _, err := s.SetRecord(ctx, "Counter", "", ir.Object{"value": ir.Int(i)}, i); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ReadUpdatesAfter(ctx, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Seq != 3 || got[1].Seq != 4 {
		t.Errorf("seqs = %d,%d want 3,4", got[0].Seq, got[1].Seq)
	}
	if v, _ := got[0].PrevValue.Int("value"); v != 2 {
		t.Errorf("PrevValue.value = %d, want 2", v)
	}

	rest, err := s.ReadUpdatesAfter(ctx, 4, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 1 || rest[0].Seq != 5 {
		t.Errorf("rest = %+v", rest)
	}
}

func TestReadUpdates_FiltersComponent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.SetRecord(ctx, "Counter", "", ir.Object{"value": ir.Int(1)}, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetRecord(ctx, "Position", "0x01", ir.Object{"x": ir.Int(1)}, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetRecord(ctx, "Counter", "", ir.Object{"value": ir.Int(2)}, 2); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadUpdates(ctx, "Counter", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Seq != 1 || got[1].Seq != 3 {
		t.Errorf("seqs = %d,%d want 1,3", got[0].Seq, got[1].Seq)
	}

	all, err := s.ReadUpdates(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}
}

func TestLatestSeqAndBlock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seq, err := s.LatestSeq(ctx)
	if err != nil || seq != 0 {
		t.Fatalf("LatestSeq() on empty = %d, %v", seq, err)
	}
	block, err := s.LatestBlock(ctx)
	if err != nil || block != 0 {
		t.Fatalf("LatestBlock() on empty = %d, %v", block, err)
	}

	if _, err := s.SetRecord(ctx, "Counter", "", ir.Object{"value": ir.Int(1)}, 4); err != nil {
		t.Fatal(err)
	}
	if err := s.BeginWrite(ctx, "w1", "increment", 9); err != nil {
		t.Fatal(err)
	}

	seq, err = s.LatestSeq(ctx)
	if err != nil || seq != 1 {
		t.Errorf("LatestSeq() = %d, %v want 1", seq, err)
	}
	block, err = s.LatestBlock(ctx)
	if err != nil || block != 9 {
		t.Errorf("LatestBlock() = %d, %v want 9", block, err)
	}
}

func TestReadWrite_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.ReadWrite(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
