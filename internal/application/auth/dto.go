package auth

// IssueTokenRequest トークン発行リクエスト
type IssueTokenRequest struct {
	UserID string
}

// IssueTokenResponse トークン発行レスポンス
type IssueTokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"` // 秒単位
	TokenType string `json:"token_type"` // "Bearer"
}
