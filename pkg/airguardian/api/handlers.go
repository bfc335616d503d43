package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/ledger"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/readings"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

const (
	defaultLogLimit       = 20
	maxLogLimit           = 1000
	defaultAnalyticsHours = 24
	maxAnalyticsHours     = 24 * 30
	maxBodyBytes          = 1 << 20
)

type errorResponse struct {
	Error string `json:"error"`
}

type devicesResponse struct {
	Devices []string `json:"devices"`
	Count   int      `json:"count"`
}

type logsResponse struct {
	DeviceID string         `json:"device_id,omitempty"`
	Logs     []ledger.Entry `json:"logs"`
	Count    int            `json:"count"`
}

type healthResponse struct {
	Status string `json:"status"`
	Ledger string `json:"ledger"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		klog.ErrorS(err, "Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	writeJSON(w, status, errorResponse{Error: fmt.Sprintf(format, args...)})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Ledger: s.pipeline.Ledger().Status(),
	})
}

func (s *Server) postReading(w http.ResponseWriter, r *http.Request) {
	var reading types.Reading
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&reading); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if reading.Timestamp.IsZero() {
		reading.Timestamp = s.clock.Now()
	}

	res, err := s.pipeline.ProcessAndLog(r.Context(), reading)
	if err != nil {
		var verr *readings.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, "%v", verr)
			return
		}
		klog.ErrorS(err, "Failed to process reading", "device", reading.DeviceID)
		writeError(w, http.StatusInternalServerError, "failed to process reading")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.pipeline.Devices()
	if devices == nil {
		devices = []string{}
	}
	writeJSON(w, http.StatusOK, devicesResponse{Devices: devices, Count: len(devices)})
}

func (s *Server) getDashboard(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device_id"]
	dash, ok := s.pipeline.Dashboard(deviceID)
	if !ok {
		writeError(w, http.StatusNotFound, "no data for device %s", deviceID)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

func (s *Server) getAnalytics(w http.ResponseWriter, r *http.Request) {
	if s.analytics == nil {
		writeError(w, http.StatusNotImplemented, "analytics require a reading archive")
		return
	}
	deviceID := mux.Vars(r)["device_id"]

	hours, err := intParam(r, "hours", defaultAnalyticsHours, maxAnalyticsHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	since := s.clock.Now().Add(-time.Duration(hours) * time.Hour)
	summary, err := s.analytics.Summary(r.Context(), deviceID, since)
	if err != nil {
		klog.ErrorS(err, "Failed to summarize readings", "device", deviceID)
		writeError(w, http.StatusInternalServerError, "failed to summarize readings")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) listLedgerLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultLogLimit, maxLogLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	logs := s.pipeline.Ledger().Journal().Recent(limit)
	writeJSON(w, http.StatusOK, logsResponse{Logs: nonNil(logs), Count: len(logs)})
}

func (s *Server) listDeviceLedgerLogs(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device_id"]
	limit, err := intParam(r, "limit", defaultLogLimit, maxLogLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	logs := s.pipeline.Ledger().Journal().ByDevice(deviceID, limit)
	writeJSON(w, http.StatusOK, logsResponse{DeviceID: deviceID, Logs: nonNil(logs), Count: len(logs)})
}

// intParam reads a positive integer query parameter capped at max
func intParam(r *http.Request, name string, def, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	if v > max {
		v = max
	}
	return v, nil
}

func nonNil(logs []ledger.Entry) []ledger.Entry {
	if logs == nil {
		return []ledger.Entry{}
	}
	return logs
}
