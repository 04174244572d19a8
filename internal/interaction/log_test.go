package interaction

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danielpatrickdp/decision-dialogue/internal/policy"
	"github.com/danielpatrickdp/decision-dialogue/internal/schema"
	"github.com/google/go-cmp/cmp"
)

// #region helpers
func rec(action string) Record {
	return Record{
		Context: schema.NewContext(map[string]any{"friendly": true}),
		Action:  schema.Action(action),
		Source:  policy.KindRuleTable,
	}
}

func actions(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = string(r.Action)
	}
	return out
}

// #endregion helpers

// #region append-tests
func TestLog_AppendAssignsFields(t *testing.T) {
	l := NewLog()
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	a := l.Append(rec("talk"))
	b := l.Append(rec("trade"))

	if a.Seq != 1 || b.Seq != 2 {
		t.Fatalf("seq = %d,%d, want 1,2", a.Seq, b.Seq)
	}
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct non-empty IDs, got %q %q", a.ID, b.ID)
	}
	if !a.Timestamp.Equal(fixed) {
		t.Fatalf("timestamp = %v, want %v", a.Timestamp, fixed)
	}

	keep := Record{ID: "given", Timestamp: fixed.Add(time.Hour), Action: "ignore"}
	c := l.Append(keep)
	if c.ID != "given" || !c.Timestamp.Equal(keep.Timestamp) {
		t.Fatalf("caller-provided ID/timestamp overwritten: %+v", c)
	}
}

func TestLog_SnapshotIsolation(t *testing.T) {
	l := NewLog()
	l.Append(rec("talk"))
	snap := l.Snapshot()
	l.Append(rec("trade"))

	if len(snap) != 1 {
		t.Fatalf("snapshot grew after append: %d", len(snap))
	}
	snap[0].Action = "attack"
	if got := l.Snapshot()[0].Action; got != "talk" {
		t.Fatalf("log mutated through snapshot: %q", got)
	}
}

func TestLog_Window(t *testing.T) {
	l := NewLog()
	for _, a := range []string{"a", "b", "c", "d", "e"} {
		l.Append(rec(a))
	}
	tests := []struct {
		n    int
		want []string
	}{
		{0, []string{}},
		{2, []string{"d", "e"}},
		{5, []string{"a", "b", "c", "d", "e"}},
		{50, []string{"a", "b", "c", "d", "e"}},
	}
	for _, tt := range tests {
		got := actions(l.Window(tt.n))
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Window(%d) mismatch (-want +got):\n%s", tt.n, diff)
		}
	}
}

func TestLog_ConcurrentAppend(t *testing.T) {
	l := NewLog()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				l.Append(rec("talk"))
				_ = l.Snapshot()
			}
		}()
	}
	wg.Wait()

	snap := l.Snapshot()
	if len(snap) != 2000 {
		t.Fatalf("len = %d, want 2000", len(snap))
	}
	for i, r := range snap {
		if r.Seq != uint64(i+1) {
			t.Fatalf("record %d has seq %d", i, r.Seq)
		}
	}
}

func TestLog_ImportRenumbers(t *testing.T) {
	l := NewLog()
	l.Append(rec("talk"))
	imported := l.Import([]Record{{Seq: 40, ID: "x", Action: "trade"}, {Seq: 41, ID: "y", Action: "ignore"}})
	if imported[0].Seq != 2 || imported[1].Seq != 3 {
		t.Fatalf("imported seqs = %d,%d", imported[0].Seq, imported[1].Seq)
	}
	if diff := cmp.Diff([]string{"talk", "trade", "ignore"}, actions(l.Snapshot())); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestLog_RetainLast(t *testing.T) {
	l := NewLog()
	for _, a := range []string{"0", "1", "2", "3", "4"} {
		l.Append(rec(a))
	}
	if dropped := l.RetainLast(10); dropped != 0 {
		t.Fatalf("dropped %d with room to spare", dropped)
	}
	if dropped := l.RetainLast(2); dropped != 3 {
		t.Fatalf("dropped %d, want 3", dropped)
	}
	if diff := cmp.Diff([]string{"3", "4"}, actions(l.Snapshot())); diff != "" {
		t.Fatalf("retained mismatch (-want +got):\n%s", diff)
	}
	next := l.Append(rec("5"))
	if next.Seq != 6 {
		t.Fatalf("seq after retention = %d, want 6", next.Seq)
	}
}

// #endregion append-tests

// #region csv-tests
func csvSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.NewSchema(
		schema.Attribute{Name: "friendly", Kind: schema.KindBool},
		schema.Attribute{Name: "npc_health", Kind: schema.KindInt, Min: 0, Max: 100},
		schema.Attribute{Name: "location", Kind: schema.KindCategorical, Categories: []string{"cave", "forest"}},
	)
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	return s
}

func TestCSV_RoundTrip(t *testing.T) {
	s := csvSchema(t)
	l := NewLog()
	l.Append(Record{
		Context: schema.NewContext(map[string]any{"friendly": true, "npc_health": 80, "location": "cave"}),
		Action:  "talk",
		Source:  policy.KindRuleTable,
	})
	l.Append(Record{
		Context: schema.NewContext(map[string]any{"friendly": false, "npc_health": 3, "location": "forest"}),
		Action:  "ignore",
		Source:  policy.KindClassifier,
	})

	var buf bytes.Buffer
	if err := WriteCSV(&buf, s, l.Snapshot()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "seq,id,timestamp,source,action,friendly,npc_health,location\n") {
		t.Fatalf("unexpected header: %q", strings.SplitN(buf.String(), "\n", 2)[0])
	}

	got, err := ReadCSV(&buf, s)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	want := l.Snapshot()
	if len(got) != len(want) {
		t.Fatalf("read %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Action != want[i].Action || got[i].Source != want[i].Source || got[i].Seq != want[i].Seq {
			t.Errorf("record %d header fields differ: got %+v", i, got[i])
		}
		if !got[i].Timestamp.Equal(want[i].Timestamp) {
			t.Errorf("record %d timestamp %v, want %v", i, got[i].Timestamp, want[i].Timestamp)
		}
		if diff := cmp.Diff(want[i].Context.Map(), got[i].Context.Map()); diff != "" {
			t.Errorf("record %d context (-want +got):\n%s", i, diff)
		}
	}
}

func TestReadCSV_MissingColumn(t *testing.T) {
	s := csvSchema(t)
	in := "seq,id,timestamp,source,action,friendly,npc_health\n1,a,2026-01-01T00:00:00Z,rule_table,talk,true,5\n"
	_, err := ReadCSV(strings.NewReader(in), s)
	if !errors.Is(err, schema.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestReadCSV_BadValue(t *testing.T) {
	s := csvSchema(t)
	in := "seq,id,timestamp,source,action,friendly,npc_health,location\n1,a,2026-01-01T00:00:00Z,rule_table,talk,maybe,5,cave\n"
	_, err := ReadCSV(strings.NewReader(in), s)
	if !errors.Is(err, schema.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestReadCSV_Empty(t *testing.T) {
	got, err := ReadCSV(strings.NewReader(""), csvSchema(t))
	if err != nil || got != nil {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestWriteCSV_MissingAttribute(t *testing.T) {
	s := csvSchema(t)
	err := WriteCSV(&bytes.Buffer{}, s, []Record{rec("talk")})
	if !errors.Is(err, schema.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

// #endregion csv-tests
