package catalog

import (
	"errors"
	"fmt"
)

// DefaultUniformPrice задаёт единую цену группы по умолчанию в минимальных
// единицах валюты.
const DefaultUniformPrice int64 = 25000

// ErrUnknownItem возвращается при запросе цены группы, отсутствующей в каталоге.
var ErrUnknownItem = errors.New("unknown catalog item")

// Pricing вычисляет стоимость выбора по каталогу.
// Цены целочисленные, в минимальных единицах валюты; плавающая точка
// не используется.
type Pricing struct {
	store   *Store
	uniform int64
}

// NewPricing создаёт калькулятор стоимости с указанной единой ценой.
// Неположительная цена заменяется на DefaultUniformPrice.
func NewPricing(store *Store, uniform int64) *Pricing {
	if uniform <= 0 {
		uniform = DefaultUniformPrice
	}
	return &Pricing{
		store:   store,
		uniform: uniform,
	}
}

// Uniform возвращает действующую единую цену.
func (p *Pricing) Uniform() int64 {
	return p.uniform
}

// PriceOf возвращает цену группы: собственную, если задана, иначе единую.
func (p *Pricing) PriceOf(id string) (int64, error) {
	it, ok := p.store.Item(id)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	if it.Price != nil {
		return *it.Price, nil
	}
	return p.uniform, nil
}

// Total возвращает сумму цен выбранных групп. Для пустого выбора сумма равна нулю.
func (p *Pricing) Total(ids []string) (int64, error) {
	var total int64
	for _, id := range ids {
		price, err := p.PriceOf(id)
		if err != nil {
			return 0, err
		}
		total += price
	}
	return total, nil
}
