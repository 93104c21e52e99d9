package routes

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/sirupsen/logrus"

	"github.com/langlearner/offline-cache/internal/localstore"
	"github.com/langlearner/offline-cache/internal/notify"
	"github.com/langlearner/offline-cache/internal/proxy"
	"github.com/langlearner/offline-cache/internal/telemetry"
	"github.com/langlearner/offline-cache/internal/worker"
)

// Control 汇总控制接口依赖；LocalStore、Notifications、Metrics 可以为空，对应接口返回 404。
type Control struct {
	Runtime       *worker.Runtime
	Proxy         *proxy.CacheProxy
	Notifications *notify.Recorder
	LocalStore    *localstore.Store
	Metrics       *telemetry.Metrics
	Logger        *logrus.Logger
}

// RegisterControlRoutes 暴露 /-/ 下的控制与诊断接口，把 JSON 请求转换为 worker 事件。
func RegisterControlRoutes(app *fiber.App, ctl Control) error {
	if app == nil {
		return errors.New("app is required")
	}
	if ctl.Runtime == nil || ctl.Proxy == nil {
		return errors.New("runtime and proxy are required")
	}
	if ctl.Logger == nil {
		return errors.New("logger is required")
	}

	app.Post("/-/message", ctl.handleMessage)
	app.Post("/-/push", ctl.handlePush)
	app.Post("/-/notificationclick", ctl.handleNotificationClick)
	app.Post("/-/sync", ctl.handleSync)
	app.Get("/-/status", ctl.handleStatus)
	app.Get("/-/handlers", ctl.handleHandlers)
	app.Get("/-/notifications", ctl.handleNotifications)
	app.Put("/-/localstore/:key", ctl.handleLocalStorePut)
	app.Delete("/-/localstore/:key", ctl.handleLocalStoreDelete)
	app.Get("/-/localstore", ctl.handleLocalStoreList)
	if ctl.Metrics.Enabled() {
		app.Get("/-/metrics", adaptor.HTTPHandler(ctl.Metrics.Handler()))
	}
	return nil
}

type syncPayload struct {
	Tag      string `json:"tag"`
	Periodic bool   `json:"periodic"`
}

type clickPayload struct {
	Action string `json:"action"`
}

type policyPayload struct {
	Key              string `json:"key"`
	Description      string `json:"description"`
	Mode             string `json:"mode"`
	StoreRule        string `json:"store_rule"`
	DocumentFallback bool   `json:"document_fallback"`
}

func (ctl Control) handleMessage(c fiber.Ctx) error {
	var msg worker.Message
	if err := c.Bind().JSON(&msg); err != nil {
		return writeError(c, fiber.StatusBadRequest, "invalid_message")
	}
	msg.Type = strings.TrimSpace(msg.Type)

	ev := &worker.Event{Kind: worker.EventMessage, Message: msg}
	if err := ctl.Runtime.Dispatch(c.Context(), ev); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":  "message_failed",
			"detail": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"type":  msg.Type,
		"state": ctl.Runtime.State(),
	})
}

func (ctl Control) handlePush(c fiber.Ctx) error {
	ev := &worker.Event{Kind: worker.EventPush, Data: string(c.Body())}
	if err := ctl.Runtime.Dispatch(c.Context(), ev); err != nil {
		return writeError(c, fiber.StatusInternalServerError, "push_failed")
	}
	if ev.Notification == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(ev.Notification)
}

func (ctl Control) handleNotificationClick(c fiber.Ctx) error {
	var payload clickPayload
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&payload); err != nil {
			return writeError(c, fiber.StatusBadRequest, "invalid_click")
		}
	}
	ev := &worker.Event{Kind: worker.EventNotificationClick, Action: payload.Action}
	if err := ctl.Runtime.Dispatch(c.Context(), ev); err != nil {
		return writeError(c, fiber.StatusInternalServerError, "click_failed")
	}
	if ev.Navigate == "" {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(fiber.Map{"url": ev.Navigate})
}

func (ctl Control) handleSync(c fiber.Ctx) error {
	var payload syncPayload
	if err := c.Bind().JSON(&payload); err != nil {
		return writeError(c, fiber.StatusBadRequest, "invalid_sync")
	}
	payload.Tag = strings.TrimSpace(payload.Tag)
	if payload.Tag == "" {
		return writeError(c, fiber.StatusBadRequest, "sync_tag_required")
	}

	kind := worker.EventSync
	if payload.Periodic {
		kind = worker.EventPeriodicSync
	}
	if err := ctl.Runtime.Dispatch(c.Context(), &worker.Event{Kind: kind, Tag: payload.Tag}); err != nil {
		return writeError(c, fiber.StatusInternalServerError, "sync_failed")
	}
	return c.JSON(fiber.Map{"event": kind, "tag": payload.Tag})
}

func (ctl Control) handleStatus(c fiber.Ctx) error {
	status, err := ctl.Proxy.Status(c.Context())
	if err != nil {
		ctl.Logger.WithError(err).WithField("action", "status").Warn("cache_status_failed")
		return writeError(c, fiber.StatusInternalServerError, "status_failed")
	}
	return c.JSON(fiber.Map{
		"state":      ctl.Runtime.State(),
		"claimed":    status.Claimed,
		"cache_name": status.CacheName,
		"caches":     status.Caches,
		"entries":    status.Entries,
	})
}

func (ctl Control) handleHandlers(c fiber.Ctx) error {
	policies := ctl.Proxy.Policies().List()
	encoded := make([]policyPayload, 0, len(policies))
	for _, meta := range policies {
		encoded = append(encoded, policyPayload{
			Key:              meta.Key,
			Description:      meta.Description,
			Mode:             string(meta.Mode),
			StoreRule:        string(meta.StoreRule),
			DocumentFallback: meta.DocumentFallback,
		})
	}
	return c.JSON(fiber.Map{
		"policies": encoded,
		"handlers": ctl.Runtime.Registry().Snapshot(),
	})
}

func (ctl Control) handleNotifications(c fiber.Ctx) error {
	if ctl.Notifications == nil {
		return writeError(c, fiber.StatusNotFound, "notifications_disabled")
	}
	return c.JSON(fiber.Map{"notifications": ctl.Notifications.Recent()})
}

func (ctl Control) handleLocalStorePut(c fiber.Ctx) error {
	if ctl.LocalStore == nil {
		return writeError(c, fiber.StatusNotFound, "localstore_disabled")
	}
	key := strings.TrimSpace(c.Params("key"))
	if key == "" {
		return writeError(c, fiber.StatusBadRequest, "key_required")
	}
	if err := ctl.LocalStore.Set(c.Context(), key, string(c.Body())); err != nil {
		ctl.Logger.WithError(err).WithFields(logrus.Fields{"action": "localstore", "key": key}).Warn("localstore_set_failed")
		return writeError(c, fiber.StatusInternalServerError, "localstore_failed")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleLocalStoreDelete 对应 localStorage.removeItem，键不存在时同样返回 204。
func (ctl Control) handleLocalStoreDelete(c fiber.Ctx) error {
	if ctl.LocalStore == nil {
		return writeError(c, fiber.StatusNotFound, "localstore_disabled")
	}
	key := strings.TrimSpace(c.Params("key"))
	if key == "" {
		return writeError(c, fiber.StatusBadRequest, "key_required")
	}
	if err := ctl.LocalStore.Remove(c.Context(), key); err != nil {
		ctl.Logger.WithError(err).WithFields(logrus.Fields{"action": "localstore", "key": key}).Warn("localstore_remove_failed")
		return writeError(c, fiber.StatusInternalServerError, "localstore_failed")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (ctl Control) handleLocalStoreList(c fiber.Ctx) error {
	if ctl.LocalStore == nil {
		return writeError(c, fiber.StatusNotFound, "localstore_disabled")
	}
	entries, err := ctl.LocalStore.List(c.Context())
	if err != nil {
		ctl.Logger.WithError(err).WithField("action", "localstore").Warn("localstore_list_failed")
		return writeError(c, fiber.StatusInternalServerError, "localstore_failed")
	}
	if entries == nil {
		entries = []localstore.Entry{}
	}
	return c.JSON(fiber.Map{"entries": entries})
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}
