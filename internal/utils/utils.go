package utils

// Ptr returns a pointer to v; convenient for optional struct fields.
func Ptr[T any](v T) *T { return &v }
