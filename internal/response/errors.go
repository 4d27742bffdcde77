package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrPrincipalAccessOnly ErrCode = "PRINCIPAL_ACCESS_ONLY"
	ErrScopeViolation      ErrCode = "SCOPE_VIOLATION"
	ErrNotSessionOwner     ErrCode = "NOT_SESSION_OWNER"

	// ─── Entitlement ───────────────────────────────────────────────────
	ErrNoEntitlement      ErrCode = "NO_ENTITLEMENT"
	ErrEntitlementUsedUp  ErrCode = "ENTITLEMENT_EXHAUSTED"
	ErrEntitlementExpired ErrCode = "ENTITLEMENT_EXPIRED"
	ErrCourseAccessDenied ErrCode = "COURSE_ACCESS_DENIED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation ErrCode = "VALIDATION_ERROR"
	ErrInvalidID  ErrCode = "INVALID_ID"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound        ErrCode = "NOT_FOUND"
	ErrSessionNotFound ErrCode = "SESSION_NOT_FOUND"
	ErrInvalidState    ErrCode = "INVALID_SESSION_STATE"

	// ─── Practice-specific ─────────────────────────────────────────────
	ErrNoQuestions           ErrCode = "NO_QUESTIONS"
	ErrInsufficientQuestions ErrCode = "INSUFFICIENT_QUESTIONS"
	ErrQuestionNotInSession  ErrCode = "QUESTION_NOT_IN_SESSION"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal           ErrCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrCode = "SERVICE_UNAVAILABLE"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrPrincipalAccessOnly:
		return "Sumber daya ini terbatas untuk peserta latihan."
	case ErrScopeViolation:
		return "Mata pelajaran atau topik yang dipilih berada di luar cakupan akun Anda."
	case ErrNotSessionOwner:
		return "Sesi latihan ini bukan milik Anda."

	// ─── Entitlement ───────────────────────────────────────────────────
	case ErrNoEntitlement:
		return "Anda belum memiliki paket latihan."
	case ErrEntitlementUsedUp:
		return "Kuota percobaan paket latihan Anda telah habis."
	case ErrEntitlementExpired:
		return "Paket latihan Anda telah kedaluwarsa."
	case ErrCourseAccessDenied:
		return "Anda tidak memiliki akses ke kursus ini."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrSessionNotFound:
		return "Sesi latihan tidak ditemukan."
	case ErrInvalidState:
		return "Tindakan ini tidak valid untuk status sesi saat ini."

	// ─── Practice-specific ─────────────────────────────────────────────
	case ErrNoQuestions:
		return "Tidak ada soal yang sesuai dengan filter yang dipilih."
	case ErrInsufficientQuestions:
		return "Jumlah soal tidak mencukupi untuk membuat tryout."
	case ErrQuestionNotInSession:
		return "Soal ini bukan bagian dari sesi latihan."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	case ErrServiceUnavailable:
		return "Layanan sedang tidak tersedia."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
