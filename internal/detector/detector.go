package detector

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/kartoved-system/internal/model"
)

// Acquirer — один датчик сигнала. Acquire возвращает (nil, nil) при
// отсутствии сигнала: выключенное радио, нет разрешения, нет оборудования.
// Ошибка датчика для каскада равносильна отсутствию сигнала, наружу она не
// поднимается.
type Acquirer interface {
	Acquire(ctx context.Context) (model.SignalReading, error)
}

const (
	// DefaultBudget — общий бюджет времени одного определения.
	DefaultBudget = 500 * time.Millisecond
	// DefaultAcquirerCeiling — потолок времени одного датчика. Действует
	// независимо от общего бюджета: датчик, не уложившийся в потолок,
	// считается не давшим сигнала в этом вызове и не опрашивается повторно.
	DefaultAcquirerCeiling = 300 * time.Millisecond
)

// Detector запускает все датчики параллельно и выбирает один сигнал по
// приоритету каскада. Датчики передаются при создании, общих глобальных
// сервисов у детектора нет.
type Detector struct {
	acquirers []Acquirer
	budget    time.Duration
	ceiling   time.Duration
	logger    *zap.Logger
}

// NewDetector создаёт детектор над четырьмя датчиками каскада.
// Неположительные budget и ceiling заменяются значениями по умолчанию.
func NewDetector(nfc, wifi, bluetooth, gps Acquirer, budget, ceiling time.Duration, logger *zap.Logger) *Detector {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if ceiling <= 0 {
		ceiling = DefaultAcquirerCeiling
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		acquirers: []Acquirer{nfc, wifi, bluetooth, gps},
		budget:    budget,
		ceiling:   ceiling,
		logger:    logger,
	}
}

// Detect опрашивает все датчики одновременно, дожидается завершения каждого
// в пределах общего бюджета и выбирает выигравший сигнал по приоритету
// каскада. Порядок завершения датчиков на выбор не влияет. Ошибка или
// паника одного датчика не прерывает остальных. Возвращает ErrNotDetected,
// если сигнала не дал никто.
func (d *Detector) Detect(ctx context.Context) (*model.DetectionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d.budget)
	defer cancel()

	// У каждого датчика собственный буферизованный канал: результат,
	// пришедший после истечения бюджета, остаётся непрочитанным и не
	// попадает в уже возвращённый DetectionResult.
	slots := make([]chan model.SignalReading, len(d.acquirers))
	for i, a := range d.acquirers {
		slot := make(chan model.SignalReading, 1)
		slots[i] = slot
		go d.runAcquirer(ctx, a, slot)
	}

	var readings []model.SignalReading
	for _, slot := range slots {
		select {
		case r := <-slot:
			if r != nil {
				readings = append(readings, r)
			}
		case <-ctx.Done():
			// Бюджет исчерпан: забираем уже доставленный результат, если
			// он есть, не дожидаясь остальных.
			select {
			case r := <-slot:
				if r != nil {
					readings = append(readings, r)
				}
			default:
			}
		}
	}

	return Arbitrate(readings, time.Now())
}

func (d *Detector) runAcquirer(ctx context.Context, a Acquirer, slot chan<- model.SignalReading) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Debug("acquirer panicked", zap.Any("panic", p))
			slot <- nil
		}
	}()

	actx, cancel := context.WithTimeout(ctx, d.ceiling)
	defer cancel()

	reading, err := a.Acquire(actx)
	if err != nil {
		d.logger.Debug("acquirer yielded no signal", zap.Error(err))
		slot <- nil
		return
	}
	slot <- reading
}
