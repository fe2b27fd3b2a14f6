package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nodetap/nodetap/internal/breakpoint"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// breakpointKey reads the (file, line, condition) identity from query
// params, answering 400 itself when invalid.
func breakpointKey(c *gin.Context) (breakpoint.Key, bool) {
	file := c.Query("file")
	lineStr := c.Query("line")
	if file == "" || lineStr == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "file and line query params required"})
		return breakpoint.Key{}, false
	}
	line, err := strconv.Atoi(lineStr)
	if err != nil || line <= 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "line must be a positive integer"})
		return breakpoint.Key{}, false
	}
	return breakpoint.Key{File: file, Line: line, Condition: c.Query("condition")}, true
}
