// Package validation содержит функции валидации входных данных.
package validation

// IsValidAccountNumber проверяет формат номера счёта: от 3 до 20 символов,
// цифры и одиночные дефисы, первый и последний символ — цифра.
func IsValidAccountNumber(number string) bool {
	if len(number) < 3 || len(number) > 20 {
		return false
	}

	prevDash := true
	for i := 0; i < len(number); i++ {
		ch := number[i]
		switch {
		case ch >= '0' && ch <= '9':
			prevDash = false
		case ch == '-':
			if prevDash {
				return false
			}
			prevDash = true
		default:
			return false
		}
	}

	return !prevDash
}
