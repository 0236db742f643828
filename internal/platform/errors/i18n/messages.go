package i18n

// Error codes must match the codes defined in internal/platform/errors/codes.go.
// These are duplicated as strings to avoid an import cycle.
const (
	CodeInvalidEvent               = "INVALID_EVENT"
	CodeEventIDConflict            = "EVENT_ID_CONFLICT"
	CodeStreamVersionConflict      = "STREAM_VERSION_CONFLICT"
	CodeEventAlreadyRecorded       = "EVENT_ALREADY_RECORDED"
	CodeInvalidArgument            = "INVALID_ARGUMENT"
	CodeInvalidDate                = "INVALID_DATE"
	CodeInvalidFlushMode           = "INVALID_FLUSH_MODE"
	CodeFlushAmountNotPositive     = "FLUSH_AMOUNT_NOT_POSITIVE"
	CodeFlushAmountFractionalCents = "FLUSH_AMOUNT_FRACTIONAL_CENTS"
	CodeFlushAmountNotMultipleOf20 = "FLUSH_AMOUNT_NOT_MULTIPLE_OF_20"
	CodeInsufficientFunds          = "INSUFFICIENT_FUNDS"
	CodeNotFound                   = "NOT_FOUND"
)

var enUS = map[Code]entry{
	CodeInvalidEvent:          {format: "The event could not be recorded: %[1]s.", args: []string{"Reason"}},
	CodeEventIDConflict:       {format: "An event with id %[1]s was already recorded.", args: []string{"EventID"}},
	CodeStreamVersionConflict: {format: "%[1]s changed while you were working. Reload and try again.", args: []string{"StreamID"}},
	CodeEventAlreadyRecorded:  {format: "%[1]s has already been recorded for %[2]s.", args: []string{"EventType", "StreamID"}},
	CodeInvalidArgument:       {format: "Invalid %[1]s: %[2]s.", args: []string{"Field", "Reason"}},
	CodeInvalidDate:           {format: "%[1]s is not a valid date; use YYYY-MM-DD.", args: []string{"Date"}},
	CodeInvalidFlushMode:      {format: "Unknown payout mode %[1]s; use NORMAL_20S or EXACT.", args: []string{"Mode"}},
	CodeFlushAmountNotPositive: {
		format: "Payout amount must be greater than zero.",
	},
	CodeFlushAmountFractionalCents: {
		format: "Payout amount %[1]s has fractions of a cent; use at most two decimal places.",
		args:   []string{"Requested"},
	},
	CodeFlushAmountNotMultipleOf20: {
		format: "Payout amount %[1]s must be a multiple of 20 in NORMAL_20S mode.",
		args:   []string{"Requested"},
	},
	CodeInsufficientFunds: {
		format: "Payout of %[1]s exceeds the available tip balance of %[2]s.",
		args:   []string{"Requested", "Available"},
	},
	CodeNotFound: {format: "%[1]s was not found.", args: []string{"Resource"}},
}

var ptBR = map[Code]entry{
	CodeInvalidEvent:          {format: "O evento não pôde ser registrado: %[1]s.", args: []string{"Reason"}},
	CodeEventIDConflict:       {format: "Um evento com id %[1]s já foi registrado.", args: []string{"EventID"}},
	CodeStreamVersionConflict: {format: "%[1]s mudou durante a operação. Recarregue e tente novamente.", args: []string{"StreamID"}},
	CodeEventAlreadyRecorded:  {format: "%[1]s já foi registrado para %[2]s.", args: []string{"EventType", "StreamID"}},
	CodeInvalidArgument:       {format: "%[1]s inválido: %[2]s.", args: []string{"Field", "Reason"}},
	CodeInvalidDate:           {format: "%[1]s não é uma data válida; use AAAA-MM-DD.", args: []string{"Date"}},
	CodeInvalidFlushMode:      {format: "Modo de pagamento desconhecido %[1]s; use NORMAL_20S ou EXACT.", args: []string{"Mode"}},
	CodeFlushAmountNotPositive: {
		format: "O valor do pagamento deve ser maior que zero.",
	},
	CodeFlushAmountFractionalCents: {
		format: "O valor %[1]s tem frações de centavo; use no máximo duas casas decimais.",
		args:   []string{"Requested"},
	},
	CodeFlushAmountNotMultipleOf20: {
		format: "O valor %[1]s deve ser múltiplo de 20 no modo NORMAL_20S.",
		args:   []string{"Requested"},
	},
	CodeInsufficientFunds: {
		format: "O pagamento de %[1]s excede o saldo de gorjetas disponível de %[2]s.",
		args:   []string{"Requested", "Available"},
	},
	CodeNotFound: {format: "%[1]s não encontrado.", args: []string{"Resource"}},
}
