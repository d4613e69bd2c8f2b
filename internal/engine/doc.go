// Package engine содержит движок графа pipeline.
//
// Включает:
//   - parser.go — парсинг PipelineSpec из JSON и валидация
//   - dag.go    — построение и обход DAG (directed acyclic graph)
//
// Engine отвечает за понимание структуры pipeline и определение
// порядка выполнения стадий на основе их зависимостей. Выполнением
// стадий занимается orchestrator.
package engine
