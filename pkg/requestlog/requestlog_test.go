package requestlog

import (
	"encoding/json"
	"net/http"
	"net/url"
	"reflect"
	"testing"
)

func TestHeadersFromHTTP_SortedAndRepeated(t *testing.T) {
	h := http.Header{}
	h.Add("X-B", "1")
	h.Add("Content-Type", "text/plain")
	h.Add("X-B", "2")

	got := HeadersFromHTTP(h)
	want := []Header{
		{Name: "Content-Type", Value: "text/plain"},
		{Name: "X-B", Value: "1"},
		{Name: "X-B", Value: "2"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	back := ToHTTP(got)
	if !reflect.DeepEqual(back.Values("X-B"), []string{"1", "2"}) {
		t.Errorf("round trip lost values: %v", back)
	}
}

func TestQueryFromURL(t *testing.T) {
	q, _ := url.ParseQuery("b=2&a=1&a=3")
	got := QueryFromURL(q)
	if len(got) != 3 || got[0].Name != "a" || got[1].Value != "3" || got[2].Name != "b" {
		t.Fatalf("unexpected query pairs: %+v", got)
	}
}

func TestRequestStatus_Terminal(t *testing.T) {
	if StatusRunning.Terminal() {
		t.Error("running must not be terminal")
	}
	if !StatusComplete.Terminal() || !StatusError.Terminal() {
		t.Error("complete and error must be terminal")
	}
}

func TestTCPConnection_DataEncodedAsBase64(t *testing.T) {
	c := TCPConnection{ID: "c1", ReceivedData: []byte("Hello"), SentData: []byte("ack\n")}
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["receivedData"] != "SGVsbG8=" {
		t.Errorf("receivedData = %v", raw["receivedData"])
	}
	if raw["sentData"] != "YWNrCg==" {
		t.Errorf("sentData = %v", raw["sentData"])
	}
}

func TestExecutionUpdate_Apply(t *testing.T) {
	msg := "boom"
	e := &HandlerExecution{ID: "e1", Status: ExecRunning}
	ExecutionUpdate{Status: ExecError, ErrorMessage: &msg, DurationMs: 3}.Apply(e)
	if e.Status != ExecError || e.ErrorMessage == nil || *e.ErrorMessage != "boom" || e.DurationMs != 3 {
		t.Fatalf("unexpected execution after apply: %+v", e)
	}
}

func TestFilter_Page(t *testing.T) {
	tests := []struct {
		name       string
		f          *Filter
		n          int
		start, end int
	}{
		{"nil filter", nil, 5, 0, 5},
		{"limit", &Filter{Limit: 2}, 5, 0, 2},
		{"offset", &Filter{Offset: 3}, 5, 3, 5},
		{"offset past end", &Filter{Offset: 9, Limit: 2}, 5, 5, 5},
		{"offset and limit", &Filter{Offset: 1, Limit: 2}, 5, 1, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, e := tt.f.Page(tt.n)
			if s != tt.start || e != tt.end {
				t.Errorf("Page(%d) = %d,%d want %d,%d", tt.n, s, e, tt.start, tt.end)
			}
		})
	}
}
