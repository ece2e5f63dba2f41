// Package progression содержит доменную логику прохождения уроков.
//
// Основные понятия:
//
//   - Session - одна попытка прохождения урока. Живёт только в памяти,
//     хранит текущий шаг, гейт шага и журнал событий performance.Log.
//   - Curriculum - плоская последовательность уроков (глобальный индекс
//     с нуля), разбитая на фазы непрерывными диапазонами.
//   - Position - сохраняемое положение ученика: индекс текущего урока,
//     суммарный XP и время последнего ежедневного бонуса.
//
// # Машина состояний сессии
//
//	in_progress --Advance(последний шаг)--> finalizing --CompleteFinalize--> results
//	     ^                                      |
//	     +-------------- (нет) -----------------+ FailFinalize: остаётся в finalizing,
//	                                              результат сохраняется для повтора
//
// Advance на не последнем шаге требует открытого гейта. Пока финализация
// выполняется, повторный Advance отклоняется: двойной клик не приводит
// к двойному начислению XP.
//
// # Монотонность
//
// CurrentLessonIndex только растёт и выставляется в completedIndex+1,
// если это значение больше текущего. Повтор пройденного урока не
// сдвигает позицию назад.
package progression
