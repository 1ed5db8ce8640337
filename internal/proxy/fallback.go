// Package proxy 上游全功能聚合器转发
// 未实现的端点透明转发到上游全功能聚合器
// 转发逻辑与聚合核心完全解耦，核心本身不感知上游的存在
package proxy

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// FallbackProxy 上游转发代理
// 封装到单一上游的反向代理
type FallbackProxy struct {
	target *url.URL               // 上游地址
	proxy  *httputil.ReverseProxy // 反向代理
	logger *logrus.Logger         // 日志记录器
}

// NewFallbackProxy 创建上游转发代理
// targetURL为空时返回nil，调用方按未配置处理（404）
func NewFallbackProxy(targetURL string, timeout time.Duration, logger *logrus.Logger) (*FallbackProxy, error) {
	if targetURL == "" {
		return nil, nil
	}

	target, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("解析上游地址失败: %w", err)
	}

	reverseProxy := httputil.NewSingleHostReverseProxy(target)
	reverseProxy.Transport = &http.Transport{
		MaxIdleConns:          20,
		IdleConnTimeout:       60 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	reverseProxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Errorf("上游转发失败: path=%s, error=%v", r.URL.Path, err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprintf(w, `{"success":false,"error":{"code":"UPSTREAM_ERROR","message":"上游聚合器不可用"}}`)
	}

	logger.Infof("上游转发代理已启用: %s", target.String())

	return &FallbackProxy{
		target: target,
		proxy:  reverseProxy,
		logger: logger,
	}, nil
}

// Handler 转发处理器
// 挂载在gin的NoRoute上，原样转发请求与响应
func (p *FallbackProxy) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p.logger.Infof("透明转发到上游: %s %s", c.Request.Method, c.Request.URL.Path)
		p.proxy.ServeHTTP(c.Writer, c.Request)
	}
}
