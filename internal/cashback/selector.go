// Package cashback выбирает карту с максимальным кэшбэком для категории MCC.
package cashback

import (
	"time"

	"github.com/mmeshcher/kartoved-system/internal/model"
)

// RateApplicable сообщает, действует ли ставка для категории mccCode в
// момент now: ставка активна и now попадает в [ValidFrom, ValidUntil).
func RateApplicable(rate model.CashbackRate, mccCode string, now time.Time) bool {
	return rate.IsActive &&
		rate.MCCCode == mccCode &&
		!now.Before(rate.ValidFrom) &&
		now.Before(rate.ValidUntil)
}

// SelectBestCard возвращает активную карту с наибольшей действующей ставкой
// кэшбэка для категории mccCode и саму ставку. При равенстве процентов
// выигрывает карта с позже обновлённой подходящей ставкой, при полном
// равенстве — карта с лексикографически меньшим идентификатором, поэтому
// результат детерминирован для любых входов. Если действующей ставки нет ни
// у одной карты, возвращает (nil, nil).
func SelectBestCard(mccCode string, cards []model.BankCard, now time.Time) (*model.BankCard, *model.CashbackRate) {
	var (
		bestCard *model.BankCard
		bestRate *model.CashbackRate
	)

	for i := range cards {
		card := &cards[i]
		if !card.IsActive {
			continue
		}

		var cardBest *model.CashbackRate
		for j := range card.Rates {
			rate := &card.Rates[j]
			if !RateApplicable(*rate, mccCode, now) {
				continue
			}
			if cardBest == nil || betterRate(rate, cardBest) {
				cardBest = rate
			}
		}
		// Карта без действующих ставок в выборе не участвует.
		if cardBest == nil {
			continue
		}

		if bestCard == nil || betterCandidate(card, cardBest, bestCard, bestRate) {
			bestCard, bestRate = card, cardBest
		}
	}

	return bestCard, bestRate
}

func betterRate(a, b *model.CashbackRate) bool {
	if a.CashbackPercent != b.CashbackPercent {
		return a.CashbackPercent > b.CashbackPercent
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}

func betterCandidate(card *model.BankCard, rate *model.CashbackRate, bestCard *model.BankCard, bestRate *model.CashbackRate) bool {
	if rate.CashbackPercent != bestRate.CashbackPercent {
		return rate.CashbackPercent > bestRate.CashbackPercent
	}
	if !rate.UpdatedAt.Equal(bestRate.UpdatedAt) {
		return rate.UpdatedAt.After(bestRate.UpdatedAt)
	}
	return card.ID < bestCard.ID
}
