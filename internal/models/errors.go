package models

import "errors"

// ErrNotFound: строки нет (позиция закрыта, агент удалён). Для риск-монитора это не ошибка.
var ErrNotFound = errors.New("not found")
