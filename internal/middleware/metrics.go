package middleware

import (
	"time"

	"deploy-keeper/internal/logger"
	"deploy-keeper/services"

	"github.com/gin-gonic/gin"
)

// 不计入统计的路径，抓取指标本身不算API请求
var unmeteredPaths = map[string]bool{
	"/metrics": true,
}

/**
 * HTTP请求统计中间件
 * @description
 * - 按路由模板统计请求数、耗时和失败数，/targets/:name 不会因目标名不同而拆成多条序列
 * - 状态码>=500的请求记录错误日志，4xx只记录调试日志
 * - 为 /healthz 提供请求数据
 */
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if unmeteredPaths[route] {
			c.Next()
			return
		}
		if route == "" {
			route = "unknown"
		}
		start := time.Now()

		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		services.IncrementRequestCount(route)
		services.RecordRequestDuration(route, elapsed.Seconds())
		if status < 400 {
			return
		}
		services.IncrementErrorCount(route)
		switch {
		case status >= 500:
			logger.Errorf("%s %s -> %d (%s) %s", c.Request.Method, c.Request.URL.Path, status, elapsed.Round(time.Millisecond), c.Errors.String())
		default:
			logger.Debugf("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, elapsed.Round(time.Millisecond))
		}
	}
}
