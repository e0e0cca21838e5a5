package usecase

import "time"

// SignState exposes state signing so tests can build expired states
func (uc *AuthUseCase) SignState(state string) string {
	return uc.signState(state)
}

// HTTPTimeout exposes the configured HTTP client timeout for tests
func (uc *AuthUseCase) HTTPTimeout() time.Duration {
	return uc.httpClient.Timeout
}
