package contextkeys

// Используем кастомный тип, чтобы избежать коллизий
type contextKey string

// RequestIDContextKey - ключ сквозного request id в context
const RequestIDContextKey = contextKey("request_id")

// UserIDContextKey - ключ id аутентифицированного пользователя в context
const UserIDContextKey = contextKey("user_id")
