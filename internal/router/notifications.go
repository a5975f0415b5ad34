package router

import (
	"errors"
	"net/http"

	"decant_shop/internal/model"
	"decant_shop/internal/notify"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func listMyNotifications(svc *notify.Service, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := mustUser(c)
		list, err := svc.ListForUser(c.Request.Context(), p.UserID)
		if err != nil {
			internalError(c, logger, "list notifications", err)
			return
		}
		unread := 0
		for i := range list {
			if !list[i].IsReadBy(p.UserID) {
				unread++
			}
		}
		ok(c, http.StatusOK, gin.H{"notifications": list, "unread": unread})
	}
}

func markNotificationRead(svc *notify.Service, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		p := mustUser(c)
		n, err := svc.MarkRead(c.Request.Context(), id, p.UserID, p.IsAdmin)
		switch {
		case errors.Is(err, notify.ErrNotFound):
			fail(c, http.StatusNotFound, "Notificación no encontrada")
			return
		case errors.Is(err, notify.ErrForbidden):
			fail(c, http.StatusForbidden, "Sin permiso para esta notificación")
			return
		case err != nil:
			internalError(c, logger, "mark notification read", err)
			return
		}
		ok(c, http.StatusOK, gin.H{"notification": n})
	}
}

func listAdminNotifications(svc *notify.Service, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svc.ListAdmin(c.Request.Context())
		if err != nil {
			internalError(c, logger, "list admin notifications", err)
			return
		}
		ok(c, http.StatusOK, gin.H{"notifications": list})
	}
}

func createAdminNotification(svc *notify.Service, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Scope    string            `json:"scope"`
			UserID   *uint             `json:"userId"`
			Type     string            `json:"type"`
			Title    string            `json:"title"`
			Message  string            `json:"message"`
			Priority string            `json:"priority"`
			Meta     map[string]string `json:"meta"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "Datos inválidos")
			return
		}
		n, err := svc.CreateByAdmin(c.Request.Context(), notify.AdminInput{
			Scope:    model.NotificationScope(req.Scope),
			UserID:   req.UserID,
			Type:     model.NotificationType(req.Type),
			Title:    req.Title,
			Message:  req.Message,
			Priority: model.Priority(req.Priority),
			Meta:     req.Meta,
		})
		if errors.Is(err, notify.ErrInvalid) {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			internalError(c, logger, "create notification", err)
			return
		}
		ok(c, http.StatusCreated, gin.H{"notification": n})
	}
}

func updateNotification(svc *notify.Service, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		var req struct {
			Type     *string           `json:"type"`
			Title    *string           `json:"title"`
			Message  *string           `json:"message"`
			Priority *string           `json:"priority"`
			Meta     map[string]string `json:"meta"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "Datos inválidos")
			return
		}
		in := notify.AdminUpdate{Title: req.Title, Message: req.Message, Meta: req.Meta}
		if req.Type != nil {
			t := model.NotificationType(*req.Type)
			in.Type = &t
		}
		if req.Priority != nil {
			pr := model.Priority(*req.Priority)
			in.Priority = &pr
		}
		n, err := svc.Update(c.Request.Context(), id, in)
		switch {
		case errors.Is(err, notify.ErrNotFound):
			fail(c, http.StatusNotFound, "Notificación no encontrada")
			return
		case errors.Is(err, notify.ErrInvalid):
			fail(c, http.StatusBadRequest, err.Error())
			return
		case err != nil:
			internalError(c, logger, "update notification", err)
			return
		}
		ok(c, http.StatusOK, gin.H{"notification": n})
	}
}

func deleteNotification(svc *notify.Service, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		err := svc.Delete(c.Request.Context(), id)
		if errors.Is(err, notify.ErrNotFound) {
			fail(c, http.StatusNotFound, "Notificación no encontrada")
			return
		}
		if err != nil {
			internalError(c, logger, "delete notification", err)
			return
		}
		ok(c, http.StatusOK, nil)
	}
}
