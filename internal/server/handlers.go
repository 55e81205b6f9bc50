package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/p-blackswan/checkin-agent/internal/agent"
	"github.com/p-blackswan/checkin-agent/internal/conversation"
	"github.com/p-blackswan/checkin-agent/internal/ledger"
	"github.com/p-blackswan/checkin-agent/internal/models"
	"github.com/p-blackswan/checkin-agent/internal/scheduler"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

func scopeOf(c *fiber.Ctx) models.Scope {
	return models.Scope{InstanceID: c.Params("instance"), UserID: c.Params("user")}
}

func dayOf(c *fiber.Ctx) (models.Day, bool) {
	return models.ParseDay(c.Query("day"))
}

// getSession handles GET /api/v1/instances/:instance/users/:user/session.
func (s *Server) getSession(c *fiber.Ctx) error {
	sess, err := s.deps.Repo.GetSession(c.UserContext(), scopeOf(c))
	if err != nil {
		return problemFor(c, err)
	}
	return c.JSON(sess)
}

// TasksResponse is the body of the tasks endpoint.
type TasksResponse struct {
	Day        models.Day    `json:"day"`
	Generation int           `json:"generation"`
	Tasks      []models.Task `json:"tasks"`
}

// getTasks handles GET .../tasks?day=.
func (s *Server) getTasks(c *fiber.Ctx) error {
	day, ok := dayOf(c)
	if !ok {
		return problemResponse(c, fiber.StatusBadRequest, "invalid_day", "Bad Request",
			"day must be \"today\" or a weekday name")
	}
	list, err := s.deps.Repo.LoadTaskList(c.UserContext(), scopeOf(c), day)
	if err != nil {
		return problemFor(c, err)
	}
	resp := TasksResponse{Day: day, Tasks: []models.Task{}}
	if list != nil {
		resp.Generation = list.Generation
		resp.Tasks = list.Tasks
	}
	return c.JSON(resp)
}

// getMetrics handles GET .../metrics?day=.
func (s *Server) getMetrics(c *fiber.Ctx) error {
	day, ok := dayOf(c)
	if !ok {
		return problemResponse(c, fiber.StatusBadRequest, "invalid_day", "Bad Request",
			"day must be \"today\" or a weekday name")
	}
	list, err := s.deps.Repo.LoadTaskList(c.UserContext(), scopeOf(c), day)
	if err != nil {
		return problemFor(c, err)
	}
	return c.JSON(ledger.MetricsOf(list))
}

// getAudit handles GET .../audit?limit=.
func (s *Server) getAudit(c *fiber.Ctx) error {
	limit := defaultAuditLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return problemResponse(c, fiber.StatusBadRequest, "invalid_limit", "Bad Request",
				"limit must be a positive integer")
		}
		limit = min(n, maxAuditLimit)
	}
	entries, err := s.deps.Repo.ListAudit(c.UserContext(), scopeOf(c), limit)
	if err != nil {
		return problemFor(c, err)
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	return c.JSON(fiber.Map{"entries": entries, "count": len(entries)})
}

// EventRequest injects a message into a conversation as if the user had
// sent it.
type EventRequest struct {
	Type        string `json:"type"` // text | button
	Text        string `json:"text,omitempty"`
	ButtonID    string `json:"button_id,omitempty"`
	ButtonTitle string `json:"button_title,omitempty"`
	MessageID   string `json:"message_id,omitempty"`
}

// EventResponse reports what the injected event did.
type EventResponse struct {
	MessageID string       `json:"message_id"`
	Duplicate bool         `json:"duplicate"`
	Handled   bool         `json:"handled"`
	State     models.State `json:"state,omitempty"`
	Delivered bool         `json:"delivered"`
	Messages  []string     `json:"messages"`
}

// postEvent handles POST .../events.
func (s *Server) postEvent(c *fiber.Ctx) error {
	var req EventRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest, "invalid_body", "Bad Request",
			"Request body must be JSON")
	}

	var payload conversation.Payload
	switch strings.ToLower(req.Type) {
	case "", "text":
		payload = conversation.Text{Body: req.Text}
	case "button":
		if req.ButtonID == "" {
			return problemResponse(c, fiber.StatusBadRequest, "invalid_body", "Bad Request",
				"button_id is required for button events")
		}
		payload = conversation.Button{ID: req.ButtonID, Title: req.ButtonTitle}
	default:
		return problemResponse(c, fiber.StatusBadRequest, "invalid_body", "Bad Request",
			"type must be text or button")
	}
	if req.MessageID == "" {
		req.MessageID = "api-" + uuid.NewString()
	}

	scope := scopeOf(c)
	res, err := s.deps.Agent.Handle(c.UserContext(), agent.InboundEvent{
		MessageID:  req.MessageID,
		UserID:     scope.UserID,
		InstanceID: scope.InstanceID,
		Channel:    models.ChannelAPI,
		Payload:    payload,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		return problemFor(c, err)
	}

	status := fiber.StatusOK
	if res.Duplicate {
		status = fiber.StatusAccepted
	}
	msgs := res.Rendered()
	if msgs == nil {
		msgs = []string{}
	}
	return c.Status(status).JSON(EventResponse{
		MessageID: req.MessageID,
		Duplicate: res.Duplicate,
		Handled:   res.Handled,
		State:     res.State,
		Delivered: res.Delivered,
		Messages:  msgs,
	})
}

// runSweep handles POST /api/v1/scheduler/:kind.
func (s *Server) runSweep(c *fiber.Ctx) error {
	kind, ok := conversation.ParsePromptKind(c.Params("kind"))
	if !ok {
		return problemResponse(c, fiber.StatusBadRequest, "invalid_kind", "Bad Request",
			"kind must be one of morning, midday, evening, weekly")
	}
	if s.deps.Scheduler == nil {
		return problemResponse(c, fiber.StatusServiceUnavailable, "scheduler_disabled", "Service Unavailable",
			"The scheduler is not running")
	}
	sweep, err := s.deps.Scheduler.RunNow(c.UserContext(), kind)
	if errors.Is(err, scheduler.ErrSweepRunning) {
		return problemResponse(c, fiber.StatusConflict, "sweep_running", "Conflict",
			"A sweep of this kind is already running")
	}
	if err != nil {
		return err
	}
	return c.JSON(sweep)
}
