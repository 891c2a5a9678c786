package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// BodyLimit caps request bodies at defaultLimit, except photo uploads which
// get uploadLimit. Limits use echo's size syntax ("1M", "512K").
func BodyLimit(defaultLimit, uploadLimit string) echo.MiddlewareFunc {
	isUpload := func(c echo.Context) bool {
		return c.Request().Method == http.MethodPut && strings.HasSuffix(c.Request().URL.Path, "/photo")
	}
	small := echomw.BodyLimitWithConfig(echomw.BodyLimitConfig{
		Limit:   defaultLimit,
		Skipper: isUpload,
	})
	large := echomw.BodyLimitWithConfig(echomw.BodyLimitConfig{
		Limit:   uploadLimit,
		Skipper: func(c echo.Context) bool { return !isUpload(c) },
	})
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return small(large(next))
	}
}

// FormatBytes renders n in echo's size syntax.
func FormatBytes(n int64) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return strconv.FormatInt(n>>20, 10) + "M"
	case n >= 1<<10 && n%(1<<10) == 0:
		return strconv.FormatInt(n>>10, 10) + "K"
	}
	return strconv.FormatInt(n, 10)
}
