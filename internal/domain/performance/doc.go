// Package performance содержит модель событий мини-игр и агрегатор
// когнитивных оценок.
//
// Каждое действие ученика внутри урока порождает одно событие (Event),
// которое попадает в упорядоченный журнал сессии (Log). При завершении
// урока журнал один раз передаётся в ComputeScores, который сводит его
// к трём оценкам 0–100:
//
//   - Attention - точность по всем событиям с решением (все виды, кроме flipCard);
//   - Memory - сильнейший доступный сигнал памяти (см. MemorySignals);
//   - Speed - средняя скорость реакции по событиям с решением.
//
// # Приоритет сигналов памяти
//
// Сигналы памяти проверяются по упорядоченной таблице пар
// (предикат, функция оценки). Первый сработавший предикат определяет
// оценку, данные низших уровней игнорируются полностью:
//
//	active recall (matchColumn, pictureMatch, sentenceBuilder)
//	  -> audioQuiz
//	    -> flipCard
//	      -> 0
//
// Пакет не выполняет ввод-вывод: все функции чистые и детерминированные.
package performance
