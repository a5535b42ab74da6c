package gateway

import "net/http"

// BuildEngineForTest exposes buildEngine for white-box testing.
func BuildEngineForTest(sdls, hosts map[string]string, httpClient *http.Client) (*executionEngine, error) {
	return buildEngine(sdls, hosts, httpClient, AuthorizationSetting{}, PluginsSetting{})
}

// CopyMapForTest exposes copyMap for white-box testing.
func CopyMapForTest(m map[string]string) map[string]string {
	return copyMap(m)
}

// FetchSDLForTest exposes fetchSDL for white-box testing.
func FetchSDLForTest(host string, httpClient *http.Client, retry RetryOption) (string, error) {
	return fetchSDL(host, httpClient, retry)
}
