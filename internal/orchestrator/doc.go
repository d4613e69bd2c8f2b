// Package orchestrator содержит ядро выполнения runs.
//
// Orchestrator берёт pending run, строит DAG его pipeline и выполняет
// стадии горутинами в пределах concurrency_limit и ресурсного бюджета.
// После gate-стадии синхронно проверяются пороги качества: promote
// открывает gated-рёбра, reject пропускает публикацию и выкатку
// и финализирует run как REJECTED.
//
// Фатальная ошибка стадии каскадно пропускает зависимые стадии и
// финализирует run как FAILED с указанием стадии-первопричины.
package orchestrator
