package policy

import "strings"

const (
	// KeyAudio 音频资源策略。
	KeyAudio = "audio"
	// KeyDefault 页面及其他资源的兜底策略。
	KeyDefault = "default"

	// AudioOfflineBody 音频请求离线时合成 503 的正文。
	AudioOfflineBody = "Audio file not available offline"
	// ResourceOfflineBody 其他资源离线时合成 503 的正文。
	ResourceOfflineBody = "Offline - Resource not available"
)

// Builtin 构造包含 audio 与 default 两个策略的注册表，audioMarker 通常为 "/audio/"。
func Builtin(audioMarker string) *Registry {
	r := New()
	r.MustRegister(Metadata{
		Key:         KeyAudio,
		Description: "audio assets: cache-first, store any ok response",
		Mode:        ModeCacheFirst,
		StoreRule:   StoreRuleOK,
		OfflineBody: AudioOfflineBody,
		Match: func(path string) bool {
			return audioMarker != "" && strings.Contains(path, audioMarker)
		},
	})
	r.MustRegister(Metadata{
		Key:              KeyDefault,
		Description:      "pages and other resources: stale-while-revalidate, store same-origin 200",
		Mode:             ModeStaleWhileRevalidate,
		StoreRule:        StoreRuleBasic200,
		OfflineBody:      ResourceOfflineBody,
		DocumentFallback: true,
	})
	return r
}
