package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Attempt token ─────────────────────────────────────────────────
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrUnknownAction  ErrCode = "UNKNOWN_ACTION"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Exam-specific ─────────────────────────────────────────────────
	ErrExamNotStarted        ErrCode = "EXAM_NOT_STARTED"
	ErrExamFinished          ErrCode = "EXAM_FINISHED"
	ErrDefinitionUnavailable ErrCode = "DEFINITION_UNAVAILABLE"
	ErrEmptyAnswer           ErrCode = "EMPTY_ANSWER"
	ErrNotActiveTask         ErrCode = "NOT_ACTIVE_TASK"
	ErrTaskExpired           ErrCode = "TASK_EXPIRED"
	ErrBackNotAllowed        ErrCode = "BACK_NOT_ALLOWED"
	ErrNotAlgorithmTask      ErrCode = "NOT_ALGORITHM_TASK"
	ErrCodeCheckFailed       ErrCode = "CODE_CHECK_FAILED"
	ErrCodeCheckBusy         ErrCode = "CODE_CHECK_BUSY"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Attempt token ─────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token sesi ujian diperlukan."
	case ErrTokenInvalid:
		return "Token sesi ujian tidak valid atau telah kedaluwarsa."
	case ErrSessionInvalidated:
		return "Ujian ini telah dibuka di perangkat lain."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."
	case ErrUnknownAction:
		return "Aksi tidak dikenal."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sesi ujian tidak ditemukan."

	// ─── Exam-specific ─────────────────────────────────────────────────
	case ErrExamNotStarted:
		return "Ujian belum dimulai. Silakan mulai ujian terlebih dahulu."
	case ErrExamFinished:
		return "Ujian sudah selesai."
	case ErrDefinitionUnavailable:
		return "Soal ujian tidak dapat dimuat. Silakan coba lagi."
	case ErrEmptyAnswer:
		return "Jawaban tidak boleh kosong."
	case ErrNotActiveTask:
		return "Soal ini bukan soal yang sedang aktif."
	case ErrTaskExpired:
		return "Waktu untuk soal ini telah habis."
	case ErrBackNotAllowed:
		return "Tidak dapat kembali ke soal sebelumnya."
	case ErrNotAlgorithmTask:
		return "Pemeriksaan kode hanya untuk soal algoritma."
	case ErrCodeCheckFailed:
		return "Pemeriksaan kode gagal. Silakan coba lagi."
	case ErrCodeCheckBusy:
		return "Pemeriksaan kode sebelumnya masih berjalan."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
