// Package api exposes the task lifecycle over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"fieldtask-api/domain"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"

	maxCommandBodyBytes = 1 << 20
	maxProofImageBytes  = 10 << 20
	maxProofImages      = 12
)

type errorResponse struct {
	Error string `json:"error"`
}

type coordsRequest struct {
	Lat          *float64 `json:"lat"`
	Lng          *float64 `json:"lng"`
	SkipGeofence bool     `json:"skipGeofence"`
}

func (r coordsRequest) coords() *domain.Coordinates {
	if r.Lat == nil || r.Lng == nil {
		return nil
	}
	return &domain.Coordinates{Lat: *r.Lat, Lng: *r.Lng}
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

// Register wires the lifecycle endpoints into the echo instance.
func Register(e *echo.Echo, orc Orchestrator, auth Authenticator, deduper Deduper, logger *log.Logger) {
	if orc == nil {
		panic("orchestrator is required")
	}
	if auth == nil {
		panic("authenticator is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	e.GET("/api/tasks/:id", getTask(orc, auth, logger))

	e.POST("/api/tasks/:id/accept", command("/api/tasks/:id/accept", auth, deduper, logger,
		func(ctx context.Context, c echo.Context, userID string) (*domain.Task, error) {
			return orc.Accept(ctx, domain.AcceptCommand{TaskID: c.Param("id"), WorkerID: userID})
		}))

	e.POST("/api/tasks/:id/journey", command("/api/tasks/:id/journey", auth, deduper, logger,
		func(ctx context.Context, c echo.Context, userID string) (*domain.Task, error) {
			var req coordsRequest
			if err := decodeCommandBody(c, &req); err != nil {
				return nil, err
			}
			return orc.StartJourney(ctx, domain.StartJourneyCommand{
				TaskID:   c.Param("id"),
				WorkerID: userID,
				Coords:   req.coords(),
			})
		}))

	e.POST("/api/tasks/:id/arrival", command("/api/tasks/:id/arrival", auth, deduper, logger,
		func(ctx context.Context, c echo.Context, userID string) (*domain.Task, error) {
			var req coordsRequest
			if err := decodeCommandBody(c, &req); err != nil {
				return nil, err
			}
			cmd := domain.MarkArrivedCommand{
				TaskID:       c.Param("id"),
				WorkerID:     userID,
				SkipGeofence: req.SkipGeofence,
			}
			if co := req.coords(); co != nil {
				cmd.Coords = *co
			} else if !req.SkipGeofence {
				return nil, &domain.ValidationError{Msg: "lat and lng are required"}
			}
			return orc.MarkArrived(ctx, cmd)
		}))

	e.POST("/api/tasks/:id/start", command("/api/tasks/:id/start", auth, deduper, logger,
		func(ctx context.Context, c echo.Context, userID string) (*domain.Task, error) {
			var req coordsRequest
			if err := decodeCommandBody(c, &req); err != nil {
				return nil, err
			}
			return orc.StartWork(ctx, domain.StartWorkCommand{
				TaskID:       c.Param("id"),
				WorkerID:     userID,
				Coords:       req.coords(),
				SkipGeofence: req.SkipGeofence,
			})
		}))

	e.POST("/api/tasks/:id/submit", command("/api/tasks/:id/submit", auth, deduper, logger,
		func(ctx context.Context, c echo.Context, userID string) (*domain.Task, error) {
			images, err := proofFilesFromRequest(c)
			if err != nil {
				return nil, err
			}
			return orc.SubmitWork(ctx, domain.SubmitWorkCommand{
				TaskID:      c.Param("id"),
				WorkerID:    userID,
				AfterImages: images,
			})
		}))

	e.POST("/api/tasks/:id/dispute", command("/api/tasks/:id/dispute", auth, deduper, logger,
		func(ctx context.Context, c echo.Context, userID string) (*domain.Task, error) {
			var req disputeRequest
			if err := decodeCommandBody(c, &req); err != nil {
				return nil, err
			}
			return orc.Dispute(ctx, domain.DisputeCommand{
				TaskID:   c.Param("id"),
				ClientID: userID,
				Reason:   req.Reason,
			})
		}))
}

func getTask(orc Orchestrator, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		m, ctx := newCommandMetrics(c.Request().Context(), logger, "/api/tasks/:id")
		taskID := c.Param("id")
		m.SetTaskID(taskID)

		authStart := time.Now()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		m.ObserveAuth(time.Since(authStart))
		if err != nil {
			m.SetErrorStage("auth")
			m.Log(http.StatusUnauthorized, nil)
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		}

		fetchStart := time.Now()
		task, err := orc.Get(ctx, taskID)
		m.ObserveExecute(time.Since(fetchStart))
		if err != nil {
			status, stage := commandErrorStatus(err)
			m.SetErrorStage(stage)
			if status == http.StatusInternalServerError {
				m.Log(status, err)
				return c.JSON(status, errorResponse{Error: "internal error"})
			}
			m.Log(status, nil)
			return c.JSON(status, errorResponse{Error: err.Error()})
		}
		if userID != task.ClientID && userID != task.WorkerID {
			m.SetErrorStage("authorize")
			m.Log(http.StatusForbidden, nil)
			return c.JSON(http.StatusForbidden, errorResponse{Error: "not a participant of this task"})
		}

		m.Log(http.StatusOK, nil)
		return c.JSON(http.StatusOK, task)
	}
}

type commandFunc func(ctx context.Context, c echo.Context, userID string) (*domain.Task, error)

// command wraps one lifecycle transition: authenticate the caller, guard
// against idempotency-key replays, run the transition, map the error
// taxonomy to HTTP.
func command(route string, auth Authenticator, deduper Deduper, logger *log.Logger, run commandFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		m, ctx := newCommandMetrics(c.Request().Context(), logger, route)
		taskID := c.Param("id")
		m.SetTaskID(taskID)

		authStart := time.Now()
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		m.ObserveAuth(time.Since(authStart))
		if err != nil {
			m.SetErrorStage("auth")
			m.Log(http.StatusUnauthorized, nil)
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		}

		// The deduper degrades open: if Redis is unavailable the command
		// still runs, it just loses replay protection.
		var dedupeKey string
		if deduper != nil {
			if key := c.Request().Header.Get(idempotencyKeyHeader); key != "" {
				added, derr := deduper.Add(ctx, taskID, key)
				switch {
				case derr != nil:
					logger.Warnf("dedupe check failed, continuing, err: %v, task: %s", derr, taskID)
				case !added:
					m.SetErrorStage("dedupe")
					m.Log(http.StatusConflict, nil)
					return c.JSON(http.StatusConflict, errorResponse{Error: "duplicate command"})
				default:
					dedupeKey = key
				}
			}
		}

		execStart := time.Now()
		task, err := run(ctx, c, userID)
		m.ObserveExecute(time.Since(execStart))
		if err != nil {
			if dedupeKey != "" {
				if rerr := deduper.Remove(context.Background(), taskID, dedupeKey); rerr != nil {
					logger.Errorf("dedupe rollback failed, err: %v, key: %s, task: %s", rerr, dedupeKey, taskID)
				}
			}
			status, stage := commandErrorStatus(err)
			m.SetErrorStage(stage)
			if status == http.StatusInternalServerError {
				m.Log(status, err)
				return c.JSON(status, errorResponse{Error: "internal error"})
			}
			m.Log(status, nil)
			return c.JSON(status, errorResponse{Error: err.Error()})
		}

		m.Log(http.StatusOK, nil)
		return c.JSON(http.StatusOK, task)
	}
}

// commandErrorStatus maps the domain error taxonomy to HTTP statuses and
// names the stage that failed for the observability record.
func commandErrorStatus(err error) (int, string) {
	var (
		validationErr *domain.ValidationError
		selfErr       *domain.SelfAssignmentError
		authzErr      *domain.AuthorizationError
		geoErr        *domain.GeofenceError
		windowErr     *domain.DisputeWindowClosedError
		stateErr      *domain.StateError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "validate"
	case errors.As(err, &selfErr), errors.As(err, &authzErr):
		return http.StatusForbidden, "authorize"
	case errors.As(err, &geoErr):
		return http.StatusUnprocessableEntity, "geofence"
	case errors.As(err, &windowErr):
		return http.StatusConflict, "window"
	case errors.As(err, &stateErr):
		return http.StatusConflict, "state"
	case errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound, "load"
	default:
		return http.StatusInternalServerError, "execute"
	}
}

// decodeCommandBody reads a small JSON body. An empty body decodes to the
// zero value so commands with optional payloads work without one.
func decodeCommandBody(c echo.Context, out any) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxCommandBodyBytes+1))
	if err != nil {
		return &domain.ValidationError{Msg: "failed to read request body"}
	}
	if len(body) > maxCommandBodyBytes {
		return &domain.ValidationError{Msg: "request body too large"}
	}
	if len(body) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(body, out); err != nil {
		return &domain.ValidationError{Msg: "invalid JSON body"}
	}
	return nil
}

func proofFilesFromRequest(c echo.Context) ([]domain.ProofFile, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, &domain.ValidationError{Msg: "multipart form with images is required"}
	}
	files := form.File["images"]
	if len(files) == 0 {
		return nil, &domain.ValidationError{Msg: "at least one after-image is required"}
	}
	if len(files) > maxProofImages {
		return nil, &domain.ValidationError{Msg: fmt.Sprintf("too many images, limit is %d", maxProofImages)}
	}

	out := make([]domain.ProofFile, 0, len(files))
	for _, fh := range files {
		if fh.Size > maxProofImageBytes {
			return nil, &domain.ValidationError{Msg: fmt.Sprintf("image %s exceeds the %dMB limit", fh.Filename, maxProofImageBytes>>20)}
		}
		src, err := fh.Open()
		if err != nil {
			return nil, &domain.ValidationError{Msg: fmt.Sprintf("failed to open image %s", fh.Filename)}
		}
		data, err := io.ReadAll(io.LimitReader(src, maxProofImageBytes+1))
		_ = src.Close()
		if err != nil {
			return nil, &domain.ValidationError{Msg: fmt.Sprintf("failed to read image %s", fh.Filename)}
		}
		if len(data) == 0 {
			return nil, &domain.ValidationError{Msg: fmt.Sprintf("image %s is empty", fh.Filename)}
		}
		out = append(out, domain.ProofFile{Name: fh.Filename, Data: data})
	}
	return out, nil
}
