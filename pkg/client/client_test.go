package client

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ruslano69/sasiom/pkg/dataset"
	"github.com/ruslano69/sasiom/pkg/iom"
	"github.com/ruslano69/sasiom/pkg/iom/iomtest"
	"github.com/ruslano69/sasiom/pkg/session"
)

func newTestClient(t *testing.T, engine *iomtest.Engine) *Client {
	t.Helper()
	c := New(session.DefaultConfig(), engine.Factory())
	if _, err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	return c
}

func TestSubmitAndSessionLog(t *testing.T) {
	engine := iomtest.NewEngine()
	c := newTestClient(t, engine)
	defer c.Close()

	result, err := c.Submit(context.Background(), "data work.a; run;", nil)
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if !strings.Contains(result.Log, "NOTE") {
		t.Errorf("log lacks engine notes: %q", result.Log)
	}
	if c.SessionLog() == "" {
		t.Error("session log is empty after a submission")
	}
}

func TestExist(t *testing.T) {
	engine := iomtest.NewEngine()
	engine.AddTable("work.present", &iomtest.Table{
		Columns: []iom.ColumnInfo{{Name: "x"}},
	})
	c := newTestClient(t, engine)
	defer c.Close()

	ok, err := c.Exist("work.present")
	if err != nil || !ok {
		t.Errorf("Exist(work.present) = %v, %v, want true, nil", ok, err)
	}
	ok, err = c.Exist("work.absent")
	if err != nil || ok {
		t.Errorf("Exist(work.absent) = %v, %v, want false, nil", ok, err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	engine := iomtest.NewEngine()
	c := newTestClient(t, engine)
	defer c.Close()

	ts := time.Date(2024, time.February, 29, 6, 15, 0, 0, time.UTC)
	frame := &dataset.Frame{
		Columns: []dataset.FrameColumn{
			{Name: "name", Kind: dataset.KindChar},
			{Name: "when", Kind: dataset.KindDatetime},
		},
		Rows: [][]any{{"leap", ts}},
	}

	if err := c.Write(frame, "work.events"); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	result, err := c.Read("work.events", nil)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if len(result.Rows) != 1 || result.Rows[0][0] != "leap" {
		t.Errorf("round trip rows = %v", result.Rows)
	}
	got, ok := result.Rows[0][1].(time.Time)
	if !ok {
		t.Fatalf("datetime = %T, want time.Time", result.Rows[0][1])
	}
	if diff := got.Sub(ts); diff < -time.Millisecond || diff > time.Millisecond {
		t.Errorf("datetime drifted by %v", diff)
	}
}

func TestToXLSX(t *testing.T) {
	engine := iomtest.NewEngine()
	engine.AddTable("work.sales", &iomtest.Table{
		Columns: []iom.ColumnInfo{{Name: "region"}, {Name: "amount"}},
		Rows:    [][]any{{"north", 10.5}},
	})
	c := newTestClient(t, engine)
	defer c.Close()

	path := filepath.Join(t.TempDir(), "sales.xlsx")
	if err := c.ToXLSX("work.sales", path, "Sales", nil); err != nil {
		t.Fatalf("ToXLSX() failed: %v", err)
	}
}

func TestXLSXRoundTripCharColumn(t *testing.T) {
	engine := iomtest.NewEngine()
	engine.AddTable("work.regions", &iomtest.Table{
		Columns: []iom.ColumnInfo{
			{Name: "region", FormatName: "$CHAR", FormatLength: 8},
			{Name: "amount"},
		},
		Rows: [][]any{{"north", 10.5}},
	})
	c := newTestClient(t, engine)
	defer c.Close()

	path := filepath.Join(t.TempDir(), "regions.xlsx")
	if err := c.ToXLSX("work.regions", path, "Regions", nil); err != nil {
		t.Fatalf("ToXLSX() failed: %v", err)
	}
	if err := c.FromXLSX(path, "Regions", "work.back"); err != nil {
		t.Fatalf("FromXLSX() failed: %v", err)
	}

	result, err := c.Read("work.back", nil)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("round trip rows = %d, want 1", len(result.Rows))
	}
	if result.Rows[0][0] != "north" {
		t.Errorf("char column = %v, want north", result.Rows[0][0])
	}
	if result.Rows[0][1] != 10.5 {
		t.Errorf("numeric column = %v, want 10.5", result.Rows[0][1])
	}
}

func TestFacadeCSV(t *testing.T) {
	engine := iomtest.NewEngine()
	engine.AddTable("work.sales", &iomtest.Table{
		Columns: []iom.ColumnInfo{{Name: "id"}, {Name: "name"}},
		Rows:    [][]any{{1.0, "alpha"}, {2.0, "beta"}},
	})
	c := newTestClient(t, engine)
	defer c.Close()

	if _, err := c.ExportCSV("work.sales", "/data/sales.csv", nil); err != nil {
		t.Fatalf("ExportCSV() failed: %v", err)
	}
	if _, err := c.ImportCSV("/data/sales.csv", "work.copy"); err != nil {
		t.Fatalf("ImportCSV() failed: %v", err)
	}

	result, err := c.ReadCSV("work.copy", nil)
	if err != nil {
		t.Fatalf("ReadCSV() failed: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Errorf("ReadCSV() rows = %d, want 2", len(result.Rows))
	}
}

func TestFacadeTransfer(t *testing.T) {
	engine := iomtest.NewEngine()
	engine.Files["/sasdata/report.txt"] = []byte("report body")
	c := newTestClient(t, engine)
	defer c.Close()

	local := filepath.Join(t.TempDir(), "report.txt")
	result, err := c.Download("/sasdata/report.txt", local, nil)
	if err != nil {
		t.Fatalf("Download() failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("Download() unsuccessful: %s", result.Log)
	}

	up, err := c.Upload(local, "/sasdata/copy.txt", nil)
	if err != nil {
		t.Fatalf("Upload() failed: %v", err)
	}
	if !up.Success || up.Checksum != result.Checksum {
		t.Errorf("Upload() = %+v, want success with matching checksum", up)
	}
}
