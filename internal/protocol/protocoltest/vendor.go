package protocoltest

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/ktxgo/ktxgo/internal/logging"
	"github.com/ktxgo/ktxgo/internal/protocol"
)

// SessionCookie is the cookie the fake vendor uses to track logins.
const SessionCookie = "JSESSIONID"

// VendorConfig configures the fake vendor.
type VendorConfig struct {
	// Member and Password are the accepted login credentials.
	Member   string
	Password string

	// Trains are the schedule rows returned by every search.
	Trains []map[string]interface{}

	// OpenAfter keeps every seat sold out for the first OpenAfter searches.
	OpenAfter int

	// SparseReserve omits the payment amount and key from reservation
	// responses so that clients must look them up.
	SparseReserve bool

	// ExpireSessionEvery logs every session out after that many schedule
	// searches. Zero disables expiry.
	ExpireSessionEvery int
}

type reservation struct {
	pnr     string
	wctNo   string
	amount  int
	train   map[string]interface{}
	seat    string
	adults  int
	paid    bool
	jobSqno string
}

// Vendor is a stateful in-process imitation of the vendor site.
type Vendor struct {
	mu           sync.Mutex
	cfg          VendorConfig
	sessions     map[string]bool
	reservations map[string]*reservation
	order        []string
	searches     int
	nextPNR      int
	logger       *logging.Logger
}

// NewVendor creates a fake vendor.
func NewVendor(cfg VendorConfig, logger *logging.Logger) *Vendor {
	if cfg.Member == "" {
		cfg.Member = "1234567890"
	}
	if cfg.Password == "" {
		cfg.Password = "secret"
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Vendor{
		cfg:          cfg,
		sessions:     make(map[string]bool),
		reservations: make(map[string]*reservation),
		nextPNR:      81000001,
		logger:       logger.WithComponent("mockvendor"),
	}
}

// Handler returns the vendor's HTTP routes.
func (v *Vendor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(protocol.LoginPath, v.loginPage)
	mux.HandleFunc(protocol.SearchPath, v.searchPage)
	mux.HandleFunc(protocol.EndpointLoginCheck, v.loginCheck)
	mux.HandleFunc(protocol.EndpointSchedule, v.authenticated(v.schedule))
	mux.HandleFunc(protocol.EndpointReserve, v.authenticated(v.reserve))
	mux.HandleFunc(protocol.EndpointReservationList, v.authenticated(v.reservationList))
	mux.HandleFunc(protocol.EndpointReservationView, v.authenticated(v.reservationView))
	mux.HandleFunc(protocol.EndpointMyTicket, v.authenticated(v.myTickets))
	mux.HandleFunc(protocol.EndpointPayment, v.authenticated(v.payment))
	return mux
}

// Login creates a session directly and returns its cookie value.
func (v *Vendor) Login() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.newSessionLocked()
}

// ExpireSessions logs every session out.
func (v *Vendor) ExpireSessions() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sessions = make(map[string]bool)
}

// Searches returns the number of schedule searches served.
func (v *Vendor) Searches() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.searches
}

// Paid returns the PNRs that have been paid.
func (v *Vendor) Paid() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []string
	for _, pnr := range v.order {
		if v.reservations[pnr].paid {
			out = append(out, pnr)
		}
	}
	return out
}

func (v *Vendor) newSessionLocked() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	id := hex.EncodeToString(buf)
	v.sessions[id] = true
	return id
}

func (v *Vendor) isLoggedIn(r *http.Request) bool {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sessions[c.Value]
}

func (v *Vendor) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !v.isLoggedIn(r) {
			writeJSON(w, failBody("P058", "로그인 후 이용하여 주십시오."))
			return
		}
		next(w, r)
	}
}

func (v *Vendor) loginPage(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		if r.FormValue("txtMember") != v.cfg.Member || r.FormValue("txtPwd") != v.cfg.Password {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, "<html><body><p>회원정보가 일치하지 않습니다.</p></body></html>")
			return
		}
		v.mu.Lock()
		id := v.newSessionLocked()
		v.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: id, Path: "/", HttpOnly: true})
		v.logger.Info("Member logged in")
		http.Redirect(w, r, protocol.SearchPath, http.StatusSeeOther)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<html><body><form method="post" action="`+protocol.LoginPath+`">`+
		`<input name="txtMember" id="txtMember"><input type="password" name="txtPwd" id="txtPwd">`+
		`<button type="submit">로그인</button></form></body></html>`)
}

func (v *Vendor) searchPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>승차권 예매</h1></body></html>")
}

func (v *Vendor) loginCheck(w http.ResponseWriter, r *http.Request) {
	if !v.isLoggedIn(r) {
		writeJSON(w, map[string]interface{}{"strResult": "SUCC", "h_msg_txt": "로그인 정보가 없습니다."})
		return
	}
	writeJSON(w, map[string]interface{}{
		"strResult":  "SUCC",
		"strMbCrdNo": v.cfg.Member,
		"strCustNm":  "홍길동",
		"strCustId":  "ktxuser",
		"loginYn":    "Y",
	})
}

func (v *Vendor) schedule(w http.ResponseWriter, r *http.Request) {
	v.mu.Lock()
	v.searches++
	searches := v.searches
	soldOut := searches <= v.cfg.OpenAfter
	if v.cfg.ExpireSessionEvery > 0 && searches%v.cfg.ExpireSessionEvery == 0 {
		v.sessions = make(map[string]bool)
	}
	rows := make([]interface{}, 0, len(v.cfg.Trains))
	for _, t := range v.cfg.Trains {
		if t["h_dpt_rs_stn_nm"] != r.FormValue("txtGoStart") || t["h_arv_rs_stn_nm"] != r.FormValue("txtGoEnd") {
			continue
		}
		row := copyRow(t)
		row["h_dpt_dt"] = r.FormValue("txtGoAbrdDt")
		row["h_run_dt"] = r.FormValue("txtGoAbrdDt")
		if soldOut {
			row["h_gen_rsv_cd"], row["h_gen_rsv_nm"] = "13", "매진"
			row["h_spe_rsv_cd"], row["h_spe_rsv_nm"] = "13", "매진"
		}
		if v.reservedLocked(row) {
			row["h_gen_rsv_cd"], row["h_gen_rsv_nm"] = "13", "매진"
		}
		rows = append(rows, row)
	}
	v.mu.Unlock()

	if len(rows) == 0 {
		writeJSON(w, failBody("P100", "조회 결과가 없습니다."))
		return
	}
	writeJSON(w, map[string]interface{}{
		"strResult": "SUCC",
		"trn_infos": map[string]interface{}{"trn_info": rows},
	})
}

func (v *Vendor) reservedLocked(row map[string]interface{}) bool {
	for _, res := range v.reservations {
		if res.train["h_trn_no"] == row["h_trn_no"] && res.train["h_dpt_dt"] == row["h_dpt_dt"] {
			return true
		}
	}
	return false
}

func (v *Vendor) reserve(w http.ResponseWriter, r *http.Request) {
	trainNo := r.FormValue("txtTrnNo1")
	depDate := r.FormValue("txtDptDt1")
	seat := r.FormValue("txtPsrmClCd1")
	adults, _ := strconv.Atoi(r.FormValue("txtTotPsgCnt"))
	if adults < 1 {
		writeJSON(w, failBody("WRR800001", "승객 수가 올바르지 않습니다."))
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	var train map[string]interface{}
	for _, t := range v.cfg.Trains {
		if t["h_trn_no"] == trainNo {
			train = copyRow(t)
			train["h_dpt_dt"] = depDate
			break
		}
	}
	if train == nil {
		writeJSON(w, failBody("WRR800010", "열차 정보가 없습니다."))
		return
	}
	codeKey := "h_gen_rsv_cd"
	if seat == "2" {
		codeKey = "h_spe_rsv_cd"
	}
	if v.searches <= v.cfg.OpenAfter || train[codeKey] != protocol.SeatAvailable || v.reservedLocked(train) {
		writeJSON(w, failBody("WRR800029", "잔여석이 없습니다."))
		return
	}

	pnr := strconv.Itoa(v.nextPNR)
	v.nextPNR++
	amount, _ := strconv.Atoi(fmt.Sprint(train["h_rcvd_amt"]))
	res := &reservation{
		pnr:     pnr,
		wctNo:   "WCT" + pnr,
		amount:  amount * adults,
		train:   train,
		seat:    seat,
		adults:  adults,
		jobSqno: "000123",
	}
	v.reservations[pnr] = res
	v.order = append(v.order, pnr)
	v.logger.Info("Reservation created", "pnr", pnr, "train_no", trainNo)

	body := map[string]interface{}{
		"strResult": "SUCC",
		"h_pnr_no":  pnr,
		"jrny_infos": map[string]interface{}{
			"jrny_info": map[string]interface{}{
				"h_pnr_no": pnr,
				"train_infos": map[string]interface{}{
					"train_info": legOf(res, !v.cfg.SparseReserve),
				},
			},
		},
	}
	if !v.cfg.SparseReserve {
		body["h_wct_no"] = res.wctNo
		body["h_rsv_amt"] = strconv.Itoa(res.amount)
		body["h_tmp_job_sqno1"] = res.jobSqno
		body["h_tmp_job_sqno2"] = "000000"
	}
	writeJSON(w, body)
}

func legOf(res *reservation, withPayment bool) map[string]interface{} {
	leg := map[string]interface{}{
		"h_pnr_no":        res.pnr,
		"h_trn_no":        res.train["h_trn_no"],
		"h_dpt_dt":        res.train["h_dpt_dt"],
		"h_dpt_tm":        res.train["h_dpt_tm"],
		"h_dpt_rs_stn_nm": res.train["h_dpt_rs_stn_nm"],
		"h_arv_rs_stn_nm": res.train["h_arv_rs_stn_nm"],
		"h_psrm_cl_cd":    res.seat,
		"h_seat_cnt":      strconv.Itoa(res.adults),
	}
	if withPayment {
		leg["h_rsv_amt"] = strconv.Itoa(res.amount)
		leg["h_wct_no"] = res.wctNo
	}
	return leg
}

func (v *Vendor) reservationList(w http.ResponseWriter, r *http.Request) {
	v.mu.Lock()
	defer v.mu.Unlock()
	res, ok := v.reservations[r.FormValue("hidPnrNo")]
	if !ok || res.paid {
		writeJSON(w, failBody("WRD000061", "예약 내역이 없습니다."))
		return
	}
	writeJSON(w, map[string]interface{}{
		"strResult":       "SUCC",
		"h_pnr_no":        res.pnr,
		"h_wct_no":        res.wctNo,
		"h_rsv_amt":       strconv.Itoa(res.amount),
		"h_tmp_job_sqno1": res.jobSqno,
		"h_tmp_job_sqno2": "000000",
		"h_rsv_chg_no":    "000",
		"jrny_infos": map[string]interface{}{
			"jrny_info": map[string]interface{}{
				"h_pnr_no":    res.pnr,
				"train_infos": map[string]interface{}{"train_info": legOf(res, true)},
			},
		},
	})
}

func (v *Vendor) reservationView(w http.ResponseWriter, r *http.Request) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var journeys []interface{}
	for _, pnr := range v.order {
		res := v.reservations[pnr]
		if res.paid {
			continue
		}
		journeys = append(journeys, map[string]interface{}{
			"h_pnr_no":       res.pnr,
			"h_rsv_amt":      strconv.Itoa(res.amount),
			"h_wct_no":       res.wctNo,
			"h_ntisu_lmt_dt": res.train["h_dpt_dt"],
			"h_ntisu_lmt_tm": "235900",
			"train_infos":    map[string]interface{}{"train_info": legOf(res, false)},
		})
	}
	if len(journeys) == 0 {
		writeJSON(w, failBody("P100", "예약 내역이 없습니다."))
		return
	}
	writeJSON(w, map[string]interface{}{
		"strResult":  "SUCC",
		"jrny_infos": map[string]interface{}{"jrny_info": journeys},
	})
}

func (v *Vendor) myTickets(w http.ResponseWriter, r *http.Request) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var entries []interface{}
	for _, pnr := range v.order {
		res := v.reservations[pnr]
		if !res.paid {
			continue
		}
		entries = append(entries, map[string]interface{}{
			"h_pnr_no":        res.pnr,
			"h_orgtk_sale_dt": res.train["h_dpt_dt"],
			"h_rcvd_amt":      strconv.Itoa(res.amount),
			"ticket_list": map[string]interface{}{
				"h_orgtk_wct_no": res.wctNo,
				"train_info":     legOf(res, false),
			},
		})
	}
	if len(entries) == 0 {
		writeJSON(w, failBody("WRG000000", "발권 내역이 없습니다."))
		return
	}
	writeJSON(w, map[string]interface{}{"strResult": "SUCC", "reservation_list": entries})
}

func (v *Vendor) payment(w http.ResponseWriter, r *http.Request) {
	v.mu.Lock()
	defer v.mu.Unlock()
	res, ok := v.reservations[r.FormValue("hidPnrNo")]
	switch {
	case !ok:
		writeJSON(w, failBody("WRD000061", "예약 내역이 없습니다."))
	case res.paid:
		writeJSON(w, failBody("WRP000001", "이미 결제된 예약입니다."))
	case r.FormValue("hidWctNo") != res.wctNo:
		writeJSON(w, failBody("WRP000002", "결제 정보가 올바르지 않습니다."))
	case r.FormValue("hidMnsStlAmt1") != strconv.Itoa(res.amount):
		writeJSON(w, failBody("WRP000003", "결제 금액이 올바르지 않습니다."))
	case r.FormValue("hidStlCrCrdNo1") == "":
		writeJSON(w, failBody("WRP000004", "카드 번호를 입력하여 주십시오."))
	default:
		res.paid = true
		v.logger.Info("Reservation paid", "pnr", res.pnr)
		writeJSON(w, map[string]interface{}{"strResult": "SUCC", "h_pnr_no": res.pnr, "h_msg_txt": "결제가 완료되었습니다."})
	}
}

func copyRow(row map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func failBody(code, message string) map[string]interface{} {
	return map[string]interface{}{
		"strResult": "FAIL",
		"h_msg_cd":  code,
		"h_msg_txt": message,
	}
}

func writeJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(body)
}
