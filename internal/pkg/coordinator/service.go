package coordinator

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
	"github.com/vreid/kurabe/internal/pkg/common"
	"github.com/vreid/kurabe/internal/pkg/engine"
	"github.com/vreid/kurabe/internal/pkg/oracle"
)

// CoordinatorService exposes the coordinator over HTTP. Caller identity is
// taken from the X-Identity header; the spec leaves wallet/identity out of
// scope, so the header is the whole story here.
type CoordinatorService struct {
	Coordinator *Coordinator
}

func NewCoordinatorService(i do.Injector) (*CoordinatorService, error) {
	owner := do.MustInvokeNamed[string](i, "owner")
	systemIdentity := do.MustInvokeNamed[string](i, "system-identity")
	cooldownSeconds := do.MustInvokeNamed[int](i, "cooldown-seconds")

	engineService := do.MustInvokeNamed[engine.Engine](i, "engine")
	oracleClient := do.MustInvokeNamed[oracle.Client](i, "oracle-client")
	oracleVerifier := do.MustInvokeNamed[oracle.Verifier](i, "oracle-verifier")

	eventSink := do.MustInvokeNamed[chan<- Event](i, "event-sink")

	coordinator, err := New(Config{
		Owner:          owner,
		SystemIdentity: systemIdentity,
		Cooldown:       time.Duration(cooldownSeconds) * time.Second,
		Engine:         engineService,
		Oracle:         oracleClient,
		Verifier:       oracleVerifier,
		Events:         eventSink,
	})
	if err != nil {
		return nil, err
	}

	result := &CoordinatorService{
		Coordinator: coordinator,
	}

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, err
	}

	echoService.Register(func(e *echo.Echo) {
		apiGroup := e.Group("/api")

		adminGroup := apiGroup.Group("/admin")

		adminGroup.POST("/providers/add", result.PostAddProvider)
		adminGroup.POST("/providers/remove", result.PostRemoveProvider)
		adminGroup.POST("/pause", result.PostPause)
		adminGroup.POST("/unpause", result.PostUnpause)
		adminGroup.POST("/cooldown", result.PostCooldown)
		adminGroup.POST("/batch/open", result.PostOpenBatch)
		adminGroup.POST("/batch/close", result.PostCloseBatch)

		matchGroup := apiGroup.Group("/match")

		matchGroup.POST("/scores", result.PostScore)
		matchGroup.POST("/requests", result.PostRequest)

		oracleGroup := apiGroup.Group("/oracle")

		oracleGroup.POST("/callback", result.PostCallback)
	})

	return result, nil
}

type providerBody struct {
	Provider string `json:"provider"`
}

type cooldownBody struct {
	Seconds int64 `json:"seconds"`
}

type scoreBody struct {
	Player string `json:"player"`
	Score  int64  `json:"score"`
}

type requestBody struct {
	Player1 string `json:"player1"`
	Player2 string `json:"player2"`
}

type callbackBody struct {
	RequestID uint64 `json:"request_id"`
	Cleartext string `json:"cleartext"`
	Proof     string `json:"proof"`
}

func (s *CoordinatorService) PostAddProvider(c echo.Context) error {
	var body providerBody

	err := c.Bind(&body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	err = s.Coordinator.AddProvider(identity(c), body.Provider)
	if err != nil {
		return httpError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (s *CoordinatorService) PostRemoveProvider(c echo.Context) error {
	var body providerBody

	err := c.Bind(&body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	err = s.Coordinator.RemoveProvider(identity(c), body.Provider)
	if err != nil {
		return httpError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (s *CoordinatorService) PostPause(c echo.Context) error {
	err := s.Coordinator.Pause(identity(c))
	if err != nil {
		return httpError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (s *CoordinatorService) PostUnpause(c echo.Context) error {
	err := s.Coordinator.Unpause(identity(c))
	if err != nil {
		return httpError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (s *CoordinatorService) PostCooldown(c echo.Context) error {
	var body cooldownBody

	err := c.Bind(&body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	err = s.Coordinator.SetCooldown(identity(c), time.Duration(body.Seconds)*time.Second)
	if err != nil {
		return httpError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (s *CoordinatorService) PostOpenBatch(c echo.Context) error {
	batchID, err := s.Coordinator.OpenBatch(identity(c))
	if err != nil {
		return httpError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, map[string]any{"batch_id": batchID})
}

func (s *CoordinatorService) PostCloseBatch(c echo.Context) error {
	err := s.Coordinator.CloseBatch(identity(c))
	if err != nil {
		return httpError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (s *CoordinatorService) PostScore(c echo.Context) error {
	var body scoreBody

	err := c.Bind(&body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	err = s.Coordinator.SubmitScore(identity(c), body.Player, body.Score)
	if err != nil {
		return httpError(err)
	}

	return c.NoContent(http.StatusAccepted)
}

func (s *CoordinatorService) PostRequest(c echo.Context) error {
	var body requestBody

	err := c.Bind(&body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	receipt, err := s.Coordinator.RequestMatch(identity(c), body.Player1, body.Player2)
	if err != nil {
		return httpError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusAccepted, receipt)
}

func (s *CoordinatorService) PostCallback(c echo.Context) error {
	var body callbackBody

	err := c.Bind(&body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	cleartext, err := base64.StdEncoding.DecodeString(body.Cleartext)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid cleartext encoding")
	}

	proof, err := base64.StdEncoding.DecodeString(body.Proof)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid proof encoding")
	}

	gap, err := s.Coordinator.OnDecrypted(body.RequestID, cleartext, proof)
	if err != nil {
		return httpError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, map[string]any{
		"request_id": body.RequestID,
		"gap":        gap,
	})
}

func identity(c echo.Context) string {
	return c.Request().Header.Get("X-Identity")
}

func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrSystemPaused):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrCooldownActive):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case errors.Is(err, ErrUnknownRequest):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrBatchAlreadyOpen),
		errors.Is(err, ErrBatchAlreadyClosed),
		errors.Is(err, ErrReplayDetected):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidCooldown),
		errors.Is(err, ErrInvalidSubmission),
		errors.Is(err, ErrStateMismatch),
		errors.Is(err, ErrInvalidProof):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
