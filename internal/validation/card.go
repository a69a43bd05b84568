// Package validation содержит функции валидации входных данных.
package validation

// IsValidLastFourDigits проверяет, что значение состоит ровно из четырёх
// десятичных цифр. Полный номер карты значением быть не может.
func IsValidLastFourDigits(value string) bool {
	return isDigits(value, 4)
}

// IsValidMCCCode проверяет формат кода категории MCC: четыре десятичные цифры.
func IsValidMCCCode(code string) bool {
	return isDigits(code, 4)
}

func isDigits(value string, length int) bool {
	if len(value) != length {
		return false
	}
	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return false
		}
	}
	return true
}
