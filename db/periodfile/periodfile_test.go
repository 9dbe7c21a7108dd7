package periodfile

import (
	"context"
	"errors"
	"os"
	"path"
	"reflect"
	"testing"

	"iostitch/errs"
)

func testDataset(name string) *Dataset {
	return &Dataset{
		Name:       name,
		Timestamps: []int64{100, 200, 300},
		Columns:    []string{"ost0", "ost1"},
		Values: [][]float64{
			{1, 2},
			{3, 4},
			{5, 6},
		},
		Missing: [][]bool{
			{false, false},
			{false, true},
			{false, false},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, compress := range []bool{false, true} {
		fn := path.Join(t.TempDir(), "2024-01-01.tts")
		want := testDataset("readrate")
		other := testDataset("writerate")
		other.Missing = nil
		if err := Write(fn, []*Dataset{want, other}, compress); err != nil {
			t.Fatal(err)
		}

		got, err := ReadDataset(ctx, fn, "readrate")
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("compress=%v: got %+v want %+v", compress, got, want)
		}
		if got.IsMissing(0, 0) || !got.IsMissing(1, 1) {
			t.Fatal("mask not preserved")
		}

		got, err = ReadDataset(ctx, fn, "writerate")
		if err != nil {
			t.Fatal(err)
		}
		if got.Missing != nil || got.IsMissing(1, 1) {
			t.Fatal("maskless dataset must be fully valid")
		}

		names, err := List(ctx, fn)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(names, []string{"readrate", "writerate"}) {
			t.Fatal(names)
		}
	}
}

func TestFileAbsent(t *testing.T) {
	_, err := ReadDataset(context.Background(), path.Join(t.TempDir(), "nope.tts"), "x")
	if !errors.Is(err, errs.ErrFileAbsent) {
		t.Fatal(err)
	}
}

func TestDatasetAbsent(t *testing.T) {
	fn := path.Join(t.TempDir(), "f.tts")
	if err := Write(fn, []*Dataset{testDataset("readrate")}, false); err != nil {
		t.Fatal(err)
	}
	_, err := ReadDataset(context.Background(), fn, "nosuch")
	if !errors.Is(err, errs.ErrDatasetAbsent) {
		t.Fatal(err)
	}
	if errors.Is(err, errs.ErrFileAbsent) {
		t.Fatal("absent dataset must be distinguishable from absent file")
	}
}

func TestCorruptContainer(t *testing.T) {
	fn := path.Join(t.TempDir(), "garbage.tts")
	if err := os.WriteFile(fn, []byte("this is not cbor at all, sorry"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := ReadDataset(context.Background(), fn, "x")
	if !errs.IsCorrupt(err) {
		t.Fatal(err)
	}
}

func TestCorruptShape(t *testing.T) {
	fn := path.Join(t.TempDir(), "f.tts")
	bad := testDataset("readrate")
	bad.Values = bad.Values[:2]
	if err := Write(fn, []*Dataset{bad}, false); !errs.IsCorrupt(err) {
		t.Fatal(err)
	}
}

func TestNonMonotonicTimestamps(t *testing.T) {
	fn := path.Join(t.TempDir(), "f.tts")
	bad := testDataset("readrate")
	bad.Timestamps = []int64{100, 300, 200}
	if err := Write(fn, []*Dataset{bad}, false); !errs.IsCorrupt(err) {
		t.Fatal(err)
	}
}

func TestCancelledRead(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReadDataset(ctx, "whatever.tts", "x")
	if !errors.Is(err, errs.ErrCancelled) {
		t.Fatal(err)
	}
}
