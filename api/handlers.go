package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gregtusar/assetrouter/pkg/bridge"
	"github.com/gregtusar/assetrouter/pkg/models"
	"github.com/gregtusar/assetrouter/pkg/routing"
	"github.com/shopspring/decimal"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"pivot":     s.svc.Rates.Pivot(),
		"timestamp": time.Now().UTC(),
	})
}

// handleRate serves GET /api/rates?from=BTC&to=EUR. Classes are optional and
// only label the lookup.
func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := strings.TrimSpace(q.Get("from")), strings.TrimSpace(q.Get("to"))
	if from == "" || to == "" {
		s.writeError(w, r, badRequest{errors.New("from and to are required")}, nil)
		return
	}
	fromClass, err := optionalClass(q.Get("from_class"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	toClass, err := optionalClass(q.Get("to_class"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}

	quote, err := s.svc.Rates.GetRate(r.Context(), from, to, fromClass, toClass)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, quote)
}

type feesRequest struct {
	Amount         decimal.Decimal   `json:"amount"`
	ConversionType string            `json:"conversion_type,omitempty"`
	FromClass      models.AssetClass `json:"from_class,omitempty"`
	ToClass        models.AssetClass `json:"to_class,omitempty"`
}

func (s *Server) handleFees(w http.ResponseWriter, r *http.Request) {
	var req feesRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}

	var ct models.ConversionType
	var err error
	if req.ConversionType != "" {
		ct, err = models.ParseConversionType(req.ConversionType)
	} else {
		ct, err = models.ClassifyConversion(req.FromClass, req.ToClass)
	}
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}

	fb, err := s.svc.Fees.ComputeFees(req.Amount, ct)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversion_type": ct,
		"fees":            fb,
	})
}

type routesRequest struct {
	UserID       string                  `json:"user_id,omitempty"`
	Available    []models.AvailableAsset `json:"available,omitempty"`
	TargetClass  models.AssetClass       `json:"target_class"`
	AmountNeeded decimal.Decimal         `json:"amount_needed"`
}

type routesResponse struct {
	Candidates []models.RouteCandidate `json:"candidates"`
	Best       *models.RouteCandidate  `json:"best,omitempty"`
}

// handleRoutes ranks the given holdings, or the user's own when none are
// listed.
func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	var req routesRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}

	available := req.Available
	if len(available) == 0 {
		if req.UserID == "" {
			s.writeError(w, r, badRequest{errors.New("user_id or available is required")}, nil)
			return
		}
		var err error
		available, err = s.svc.Balances.AvailableAssets(r.Context(), req.UserID)
		if err != nil {
			s.writeError(w, r, err, nil)
			return
		}
	}

	candidates, err := s.svc.Routes.FindRoutes(r.Context(), available, req.TargetClass, req.AmountNeeded)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}

	resp := routesResponse{Candidates: candidates}
	if resp.Candidates == nil {
		resp.Candidates = []models.RouteCandidate{}
	}
	if best, err := routing.Best(candidates); err == nil {
		resp.Best = &best
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type collateralRequest struct {
	UserID    string                   `json:"user_id,omitempty"`
	Assets    []models.CollateralAsset `json:"assets"`
	Requested decimal.Decimal          `json:"requested"`
}

func (s *Server) handleCollateralValidate(w http.ResponseWriter, r *http.Request) {
	var req collateralRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}

	res, err := s.svc.Collateral.Validate(req.Assets, req.Requested)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ltv_ceiling": s.svc.Collateral.LTVCeiling(),
		"result":      res,
	})
}

func (s *Server) handleCollateralOpen(w http.ResponseWriter, r *http.Request) {
	var req collateralRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if req.UserID == "" {
		s.writeError(w, r, badRequest{errors.New("user_id is required")}, nil)
		return
	}

	position, err := s.svc.Collateral.OpenPosition(r.Context(), req.UserID, req.Assets, req.Requested)
	if err != nil {
		var short *models.InsufficientCollateralError
		if errors.As(err, &short) {
			s.writeError(w, r, err, map[string]string{
				"max_borrowable": short.MaxBorrowable.String(),
				"shortfall":      short.Shortfall.String(),
			})
			return
		}
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusCreated, position)
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	identifier := strings.TrimSpace(r.URL.Query().Get("identifier"))
	if identifier == "" {
		s.writeError(w, r, badRequest{errors.New("identifier is required")}, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, s.svc.Recipients.Classify(r.Context(), identifier))
}

func (s *Server) handleCreateBridge(w http.ResponseWriter, r *http.Request) {
	var req bridge.CreateRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}

	b, err := s.svc.Bridges.Create(r.Context(), req)
	if err != nil {
		// A bridge that got as far as PENDING is returned in its FAILED form.
		var detail interface{}
		if b.ID != "" {
			detail = b
		}
		s.writeError(w, r, err, detail)
		return
	}

	status := http.StatusCreated
	if b.Status == models.BridgeStatusPending {
		status = http.StatusAccepted
	}
	s.writeJSON(w, status, b)
}

func (s *Server) handleGetBridge(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.Bridges.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCompleteBridge(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.Bridges.Complete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

type failRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleFailBridge(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			s.writeError(w, r, err, nil)
			return
		}
	}

	b, err := s.svc.Bridges.Fail(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.svc.Balances.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleAvailableAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.svc.Balances.AvailableAssets(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if assets == nil {
		assets = []models.AvailableAsset{}
	}
	s.writeJSON(w, http.StatusOK, assets)
}

func optionalClass(s string) (models.AssetClass, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	c, err := models.ParseAssetClass(s)
	if err != nil {
		return "", badRequest{fmt.Errorf("invalid asset class: %w", err)}
	}
	return c, nil
}
