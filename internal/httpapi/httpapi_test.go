package httpapi

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blackfin-labs/arpcut/internal/controller"
	"github.com/blackfin-labs/arpcut/internal/iface"
	"github.com/blackfin-labs/arpcut/internal/linklayer"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockLister struct{ ifs []iface.Interface }

func (m mockLister) List() ([]iface.Interface, error) { return m.ifs, nil }

func testIface() iface.Interface {
	return iface.Interface{
		Name:    "eth0",
		IP:      net.ParseIP("192.168.1.10").To4(),
		Netmask: net.CIDRMask(24, 32),
		MAC:     net.HardwareAddr{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa},
	}
}

func newTestServer(t *testing.T) (*Server, *linklayer.MockLink) {
	t.Helper()
	link := linklayer.NewMockLink()
	ctrl := controller.New(controller.Config{
		AttackInterval: 5 * time.Millisecond,
		ScanInterval:   0,
	}, mockLister{ifs: []iface.Interface{testIface()}}, link, zap.NewNop())
	return NewServer(ctrl, zap.NewNop(), nil), link
}

func TestPing(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGetTargetsTriggersScanAndReturnsRows(t *testing.T) {
	s, link := newTestServer(t)
	link.QueueReply("eth0", linklayer.Reply{IP: net.ParseIP("192.168.1.1").To4(), MAC: net.HardwareAddr{0x11, 0, 0, 0, 0, 0}})

	req := httptest.NewRequest(http.MethodGet, "/get_targets", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var rows []targetRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	require.Equal(t, "192.168.1.1", rows[0].IP)
	require.Equal(t, "Normal", rows[0].Status)
}

func TestGetStatusNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/get_status/10.0.0.5", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp statusResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Target Not Found", resp.Status)
}

func TestActionCutThenRecover(t *testing.T) {
	s, link := newTestServer(t)
	link.QueueReply("eth0", linklayer.Reply{IP: net.ParseIP("192.168.1.1").To4(), MAC: net.HardwareAddr{0x11, 0, 0, 0, 0, 0}})
	link.QueueReply("eth0", linklayer.Reply{IP: net.ParseIP("192.168.1.20").To4(), MAC: net.HardwareAddr{0x22, 0, 0, 0, 0, 0}})

	getReq := httptest.NewRequest(http.MethodGet, "/get_targets", nil)
	s.Router().ServeHTTP(httptest.NewRecorder(), getReq)

	cutReq := httptest.NewRequest(http.MethodPost, "/action/192.168.1.1", nil)
	cutRec := httptest.NewRecorder()
	s.Router().ServeHTTP(cutRec, cutReq)
	require.Equal(t, http.StatusOK, cutRec.Code)
	var cutResp statusResp
	require.NoError(t, json.Unmarshal(cutRec.Body.Bytes(), &cutResp))
	require.Equal(t, "Cut", cutResp.Status)

	recoverReq := httptest.NewRequest(http.MethodPost, "/action/192.168.1.1", nil)
	recoverRec := httptest.NewRecorder()
	s.Router().ServeHTTP(recoverRec, recoverReq)
	require.Equal(t, http.StatusOK, recoverRec.Code)
	var recoverResp statusResp
	require.NoError(t, json.Unmarshal(recoverRec.Body.Bytes(), &recoverResp))
	require.Equal(t, "Recovered", recoverResp.Status)
}

func TestActionOnUnknownIsNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/action/10.0.0.5", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSetInfo(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"atk": "3", "def": "7"})
	setReq := httptest.NewRequest(http.MethodPost, "/set_info", bytes.NewReader(body))
	setRec := httptest.NewRecorder()
	s.Router().ServeHTTP(setRec, setReq)
	require.Equal(t, http.StatusOK, setRec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/get_info", nil)
	getRec := httptest.NewRecorder()
	s.Router().ServeHTTP(getRec, getReq)
	var resp infoResp
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &resp))
	require.Equal(t, "3", resp.Atk)
	require.Equal(t, "7", resp.Def)
}

func TestSetInfoMalformedBody(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/set_info", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuitRunsRecoverAllBeforeCallback(t *testing.T) {
	s, link := newTestServer(t)
	link.QueueReply("eth0", linklayer.Reply{IP: net.ParseIP("192.168.1.1").To4(), MAC: net.HardwareAddr{0x11, 0, 0, 0, 0, 0}})
	link.QueueReply("eth0", linklayer.Reply{IP: net.ParseIP("192.168.1.20").To4(), MAC: net.HardwareAddr{0x22, 0, 0, 0, 0, 0}})

	s.Router().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/get_targets", nil))
	s.Router().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/action/192.168.1.1", nil))

	called := make(chan struct{})
	s.quit = func() { close(called) }

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/quit", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("quit callback was never invoked")
	}

	status := s.ctrl.GetHost(net.ParseIP("192.168.1.1").To4())
	require.Equal(t, "Normal", status.Status.String(), "recover_all restored the cut host before the callback ran")
}
