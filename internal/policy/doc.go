// Package policy 描述 fetch 拦截时可选的缓存策略，并按请求路径挑选策略。
//
// 内置两种策略：
//  1. audio：路径包含音频标记段时启用，cache-first，2xx（206 除外）响应写缓存，离线时返回音频专用 503；
//  2. default：其余请求，stale-while-revalidate，仅缓存同源 200，离线时文档请求回退到默认页面。
//
// Registry 为实例级结构，由 CacheProxy 构造时注入，不依赖包级全局状态。
package policy
