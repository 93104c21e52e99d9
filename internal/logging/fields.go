package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供缓存名/策略/命中状态字段，供 fetch 拦截日志复用。
func RequestFields(cacheName, policy, method, path string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"cache":     cacheName,
		"policy":    policy,
		"method":    method,
		"path":      path,
		"cache_hit": cacheHit,
	}
}

// EventFields 描述一次 worker 事件分发，便于按事件类型检索生命周期日志。
func EventFields(kind, state string) logrus.Fields {
	return logrus.Fields{
		"action": "worker_event",
		"event":  kind,
		"state":  state,
	}
}
