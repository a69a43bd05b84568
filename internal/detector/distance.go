package detector

import "math"

// Параметры лог-дистанционной модели затухания по умолчанию: опорный RSSI
// на расстоянии одного метра и коэффициент затухания для помещений.
const (
	DefaultReferenceRSSI    = -50.0
	DefaultPathLossExponent = 3.5
)

// EstimateDistance оценивает расстояние до источника сигнала в метрах по
// лог-дистанционной модели затухания:
//
//	distance = 10 ^ ((referenceRSSI - observedRSSI) / (10 * pathLossExponent))
//
// Результат округляется до одного знака после запятой. Возвращает false для
// NaN и бесконечных входов, а также для неположительного коэффициента
// затухания.
func EstimateDistance(observedRSSI, referenceRSSI, pathLossExponent float64) (float64, bool) {
	if !isFinite(observedRSSI) || !isFinite(referenceRSSI) || !isFinite(pathLossExponent) {
		return 0, false
	}
	if pathLossExponent <= 0 {
		return 0, false
	}

	distance := math.Pow(10, (referenceRSSI-observedRSSI)/(10*pathLossExponent))
	return math.Round(distance*10) / 10, true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
