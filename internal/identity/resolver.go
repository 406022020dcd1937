// Package identity определяет идентификатор действующего пользователя
// по данным запуска мини-приложения.
package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
)

// Resolver извлекает идентификатор пользователя из контекста запуска.
// Приоритет источников: подписанные init-данные хоста, затем явное
// переопределение (только для разработки), иначе идентификатор отсутствует.
// Резолвер не выполняет ввод-вывод и не блокируется: все данные доступны
// на момент создания.
type Resolver struct {
	secret   []byte
	initData string
	override int64
}

// NewResolver создаёт резолвер для указанных данных запуска.
// botToken используется для проверки подписи init-данных; при пустом токене
// подпись не проверяется. override применяется, если из init-данных
// идентификатор извлечь не удалось.
func NewResolver(botToken, initData string, override int64) *Resolver {
	r := &Resolver{
		initData: initData,
		override: override,
	}
	if botToken != "" {
		mac := hmac.New(sha256.New, []byte("WebAppData"))
		mac.Write([]byte(botToken))
		r.secret = mac.Sum(nil)
	}
	return r
}

// Resolve возвращает идентификатор пользователя и признак его наличия.
// Отсутствие идентификатора не является ошибкой.
func (r *Resolver) Resolve() (int64, bool) {
	if id, ok := r.fromInitData(); ok {
		return id, true
	}
	if r.override != 0 {
		return r.override, true
	}
	return 0, false
}

func (r *Resolver) fromInitData() (int64, bool) {
	if r.initData == "" {
		return 0, false
	}

	values, err := url.ParseQuery(r.initData)
	if err != nil {
		return 0, false
	}

	if r.secret != nil && !r.verify(values) {
		return 0, false
	}

	var user struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil {
		return 0, false
	}
	if user.ID == 0 {
		return 0, false
	}

	return user.ID, true
}

// verify проверяет подпись init-данных по схеме Telegram Web App:
// HMAC-SHA256 от строки "key=value" пар, отсортированных по ключу,
// без поля hash.
func (r *Resolver) verify(values url.Values) bool {
	gotHash := values.Get("hash")
	if gotHash == "" {
		return false
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+values.Get(k))
	}

	mac := hmac.New(sha256.New, r.secret)
	mac.Write([]byte(strings.Join(pairs, "\n")))
	want := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(gotHash), []byte(want))
}
