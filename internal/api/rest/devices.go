package rest

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/KevinKickass/OpenLockIn/internal/device"
	"github.com/KevinKickass/OpenLockIn/internal/devices"
	"github.com/KevinKickass/OpenLockIn/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// writeDeviceError maps manager and device errors to HTTP responses.
func (s *Server) writeDeviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, devices.ErrDeviceNotFound):
		c.JSON(http.StatusNotFound, types.NewErrorResponse("DEVICE_404", "Device not found", err.Error()))
	case errors.Is(err, device.ErrAttributeNotFound):
		c.JSON(http.StatusNotFound, types.NewErrorResponse("ATTRIBUTE_404", "Attribute not found", err.Error()))
	case errors.Is(err, device.ErrCommandNotFound):
		c.JSON(http.StatusNotFound, types.NewErrorResponse("COMMAND_404", "Command not found", err.Error()))
	case errors.Is(err, devices.ErrNotReadable):
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("ATTRIBUTE_400", "Attribute is not readable", err.Error()))
	case errors.Is(err, devices.ErrSnapshotUnsupported):
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("DEVICE_400", "Snapshot not supported", err.Error()))
	default:
		s.logger.Warn("Device request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, types.NewErrorResponse("DEVICE_502", "Instrument request failed", err.Error()))
	}
}

// GET /api/v1/devices
func (s *Server) listDevices(c *gin.Context) {
	infos := s.lm.DeviceManager().ListDevices()

	response := make([]gin.H, 0, len(infos))
	for _, info := range infos {
		response = append(response, gin.H{
			"name":    info.Name,
			"class":   info.Class,
			"state":   info.State,
			"polling": info.Polling,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"devices": response,
		"count":   len(response),
	})
}

// GET /api/v1/devices/:name
func (s *Server) getDevice(c *gin.Context) {
	info, err := s.lm.DeviceManager().Describe(c.Param("name"))
	if err != nil {
		s.writeDeviceError(c, err)
		return
	}

	if c.Query("format") == "yaml" {
		out, err := yaml.Marshal(info)
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.NewErrorResponse("DEVICE_500", "Failed to render device", err.Error()))
			return
		}
		c.Data(http.StatusOK, "application/yaml; charset=utf-8", out)
		return
	}

	c.JSON(http.StatusOK, info)
}

// GET /api/v1/devices/:name/state
func (s *Server) getDeviceState(c *gin.Context) {
	info, err := s.lm.DeviceManager().Describe(c.Param("name"))
	if err != nil {
		s.writeDeviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"name":   info.Name,
		"state":  info.State,
		"status": info.Status,
	})
}

// GET /api/v1/devices/:name/attributes/:attr
func (s *Server) readAttribute(c *gin.Context) {
	value, err := s.lm.DeviceManager().ReadAttribute(c.Request.Context(), c.Param("name"), c.Param("attr"))
	if err != nil {
		s.writeDeviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, value)
}

// GET /api/v1/devices/:name/snapshot
func (s *Server) getSnapshot(c *gin.Context) {
	values, err := s.lm.DeviceManager().Snapshot(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.writeDeviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device": c.Param("name"),
		"values": values,
	})
}

// POST /api/v1/devices/:name/commands/:cmd
func (s *Server) executeCommand(c *gin.Context) {
	name := c.Param("name")
	if err := s.lm.DeviceManager().ExecuteCommand(c.Request.Context(), name, c.Param("cmd")); err != nil {
		s.writeDeviceError(c, err)
		return
	}

	info, err := s.lm.DeviceManager().Describe(name)
	if err != nil {
		s.writeDeviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"name":    info.Name,
		"command": c.Param("cmd"),
		"state":   info.State,
	})
}

// POST /api/v1/devices/:name/init
func (s *Server) reinitDevice(c *gin.Context) {
	name := c.Param("name")
	if err := s.lm.DeviceManager().Reinit(c.Request.Context(), name); err != nil {
		s.writeDeviceError(c, err)
		return
	}

	info, err := s.lm.DeviceManager().Describe(name)
	if err != nil {
		s.writeDeviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"name":   info.Name,
		"state":  info.State,
		"status": info.Status,
	})
}

// GET /api/v1/devices/:name/attributes/:attr/history?limit=N
func (s *Server) getHistory(c *gin.Context) {
	history := s.lm.History()
	if history == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse("HISTORY_503", "Reading archive is disabled", nil))
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("HISTORY_400", "Invalid limit", raw))
			return
		}
		limit = n
	}

	// validates device and attribute names
	info, err := s.lm.DeviceManager().Describe(c.Param("name"))
	if err != nil {
		s.writeDeviceError(c, err)
		return
	}
	attrName := ""
	for _, attr := range info.Attributes {
		if strings.EqualFold(attr.Name, c.Param("attr")) {
			attrName = attr.Name
			break
		}
	}
	if attrName == "" {
		s.writeDeviceError(c, device.ErrAttributeNotFound)
		return
	}

	readings, err := history.RecentReadings(c.Request.Context(), info.Name, attrName, limit)
	if err != nil {
		s.logger.Error("Failed to load readings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("HISTORY_500", "Failed to load readings", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device":    info.Name,
		"attribute": attrName,
		"readings":  readings,
		"count":     len(readings),
	})
}
