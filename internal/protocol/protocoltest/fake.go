// Package protocoltest provides vendor test doubles: a scripted in-memory
// Driver for unit tests and a stateful fake vendor HTTP server used by the
// mock vendor binary and end-to-end tests.
package protocoltest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Response is one scripted reply of the FakeDriver.
type Response struct {
	Body string
	Err  error
}

// JSON returns a response whose body is v encoded as JSON.
func JSON(v interface{}) Response {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("protocoltest: cannot marshal response: %v", err))
	}
	return Response{Body: string(data)}
}

// OK returns a successful vendor reply with the given extra fields.
func OK(fields map[string]interface{}) Response {
	body := map[string]interface{}{"strResult": "SUCC"}
	for k, v := range fields {
		body[k] = v
	}
	return JSON(body)
}

// Fail returns a vendor failure reply.
func Fail(code, message string) Response {
	return JSON(map[string]interface{}{
		"strResult": "FAIL",
		"h_msg_cd":  code,
		"h_msg_txt": message,
	})
}

// Raw returns a reply with a literal body.
func Raw(body string) Response {
	return Response{Body: body}
}

// Error returns a transport failure.
func Error(err error) Response {
	return Response{Err: err}
}

// Call records one CallEndpoint invocation.
type Call struct {
	Endpoint string
	Params   map[string]string
}

// FakeDriver is a scripted interfaces.Driver. Queued responses for an
// endpoint are consumed in order; once the queue is empty the endpoint's
// fallback response is returned.
type FakeDriver struct {
	mu        sync.Mutex
	queues    map[string][]Response
	fallback  map[string]Response
	calls     []Call
	navigated []string
	persisted int
	saved     bool
	closed    bool

	// OnNavigate, when set, runs on every Navigate call.
	OnNavigate func(url string)
}

// NewFakeDriver creates an empty FakeDriver.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		queues:   make(map[string][]Response),
		fallback: make(map[string]Response),
	}
}

// Queue appends responses for endpoint.
func (f *FakeDriver) Queue(endpoint string, responses ...Response) *FakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[endpoint] = append(f.queues[endpoint], responses...)
	return f
}

// Always sets the response returned once the endpoint's queue is empty.
func (f *FakeDriver) Always(endpoint string, response Response) *FakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback[endpoint] = response
	return f
}

// SetSessionPersisted controls IsSessionPersisted.
func (f *FakeDriver) SetSessionPersisted(saved bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = saved
}

// Navigate records url.
func (f *FakeDriver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.navigated = append(f.navigated, url)
	hook := f.OnNavigate
	f.mu.Unlock()
	if hook != nil {
		hook(url)
	}
	return nil
}

// CallEndpoint returns the next scripted response for endpoint.
func (f *FakeDriver) CallEndpoint(ctx context.Context, endpoint string, params map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	copied := make(map[string]string, len(params))
	for k, v := range params {
		copied[k] = v
	}
	f.calls = append(f.calls, Call{Endpoint: endpoint, Params: copied})

	var resp Response
	if queue := f.queues[endpoint]; len(queue) > 0 {
		resp = queue[0]
		f.queues[endpoint] = queue[1:]
	} else if fb, ok := f.fallback[endpoint]; ok {
		resp = fb
	} else {
		return "", fmt.Errorf("protocoltest: no response scripted for %s", endpoint)
	}
	return resp.Body, resp.Err
}

// IsSessionPersisted reports the value set by SetSessionPersisted or PersistSession.
func (f *FakeDriver) IsSessionPersisted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved
}

// PersistSession counts persist requests.
func (f *FakeDriver) PersistSession() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persisted++
	f.saved = true
	return nil
}

// ClearSession forgets the persisted session.
func (f *FakeDriver) ClearSession() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = false
	return nil
}

// Close marks the driver closed.
func (f *FakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Calls returns recorded calls, optionally filtered to one endpoint.
func (f *FakeDriver) Calls(endpoint string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if endpoint == "" || c.Endpoint == endpoint {
			out = append(out, c)
		}
	}
	return out
}

// Navigated returns the URLs passed to Navigate.
func (f *FakeDriver) Navigated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigated...)
}

// PersistCount returns how many times PersistSession was called.
func (f *FakeDriver) PersistCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.persisted
}

// Closed reports whether Close was called.
func (f *FakeDriver) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// TrainRow returns a schedule row with the given train number and seat codes.
// Other fields get plausible defaults for a Seoul to Busan KTX.
func TrainRow(trainNo, depTime, generalCode, specialCode string) map[string]interface{} {
	return map[string]interface{}{
		"h_trn_no":        trainNo,
		"h_car_tp_nm":     "KTX",
		"h_trn_gp_nm":     "KTX",
		"h_dpt_rs_stn_nm": "서울",
		"h_arv_rs_stn_nm": "부산",
		"h_dpt_rs_stn_cd": "0001",
		"h_arv_rs_stn_cd": "0020",
		"h_dpt_tm_qb":     depTime,
		"h_arv_tm_qb":     "",
		"h_dpt_tm":        stripColon(depTime),
		"h_dpt_dt":        "20261020",
		"h_run_dt":        "20261020",
		"h_trn_clsf_cd":   "100",
		"h_trn_gp_cd":     "100",
		"h_gen_rsv_nm":    seatName(generalCode),
		"h_gen_rsv_cd":    generalCode,
		"h_spe_rsv_nm":    seatName(specialCode),
		"h_spe_rsv_cd":    specialCode,
		"h_stnd_rsv_nm":   "",
		"h_stnd_rsv_cd":   "00",
		"h_wait_rsv_nm":   "",
		"h_wait_rsv_flg":  "",
		"h_rcvd_amt":      "59800",
	}
}

// Schedule wraps rows in a successful schedule response.
func Schedule(rows ...map[string]interface{}) Response {
	list := make([]interface{}, len(rows))
	for i, r := range rows {
		list[i] = r
	}
	return OK(map[string]interface{}{
		"trn_infos": map[string]interface{}{"trn_info": list},
	})
}

func seatName(code string) string {
	switch code {
	case "11":
		return "예약가능"
	case "13":
		return "매진"
	default:
		return ""
	}
}

func stripColon(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != ':' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
