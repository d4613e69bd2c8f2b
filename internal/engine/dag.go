package engine

import (
	"fmt"
	"sort"

	"github.com/shaiso/Modelflow/internal/domain"
)

// Node — узел в DAG.
type Node struct {
	// Stage — определение стадии из PipelineSpec.
	Stage *domain.StageDef

	// Name — имя стадии (совпадает со Stage.Name).
	Name string

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node

	// Gated — true, если узел (транзитивно) лежит ниже gate-стадии.
	// Рёбра, входящие в такой узел со стороны gate — gated edges:
	// узел становится runnable только после promote-решения gate.
	Gated bool
}

// Graph — направленный ациклический граф стадий pipeline.
//
// Граф неизменяем после BuildGraph; во время run его читает
// только оркестратор.
type Graph struct {
	// Nodes — все узлы графа (имя стадии → Node).
	Nodes map[string]*Node

	// Roots — узлы без зависимостей (точки входа), в лексикографическом порядке.
	Roots []*Node

	// Order — топологически отсортированный список узлов.
	Order []*Node

	// Gate — узел gate-стадии или nil, если её нет.
	Gate *Node
}

// BuildGraph строит DAG из PipelineSpec.
//
// Проверяет:
// - все depends_on ссылаются на существующие стадии
// - отсутствие циклов (алгоритм Кана)
// - каждый входной слот закрыт output-слотом транзитивной зависимости
//   или seed-артефактом
func BuildGraph(spec *domain.PipelineSpec) (*Graph, error) {
	g := &Graph{
		Nodes: make(map[string]*Node, len(spec.Stages)),
	}

	// Первый проход: создаём все узлы
	for i := range spec.Stages {
		stage := &spec.Stages[i]
		g.Nodes[stage.Name] = &Node{
			Stage: stage,
			Name:  stage.Name,
		}
	}

	// Второй проход: связываем узлы по зависимостям
	for i := range spec.Stages {
		stage := &spec.Stages[i]
		node := g.Nodes[stage.Name]

		for _, dep := range stage.DependsOn {
			depNode, exists := g.Nodes[dep]
			if !exists {
				return nil, NewGraphError(stage.Name, "depends_on",
					fmt.Sprintf("depends on unknown stage: %s", dep), ErrUnknownDependency)
			}
			g.addEdge(depNode, node)
		}
	}

	g.findRoots()

	order, err := g.topologicalSort()
	if err != nil {
		return nil, err
	}
	g.Order = order

	if err := g.verifyInputSlots(spec); err != nil {
		return nil, err
	}

	g.markGated(spec)

	return g, nil
}

// addEdge добавляет ребро между узлами.
// Дубликаты игнорируются, чтобы не задваивать InDegree.
func (g *Graph) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.Name == from.Name {
			return // уже связаны
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// findRoots находит узлы без входящих рёбер.
func (g *Graph) findRoots() {
	g.Roots = g.Roots[:0]
	for _, node := range g.Nodes {
		if node.InDegree == 0 {
			g.Roots = append(g.Roots, node)
		}
	}
	sortNodes(g.Roots)
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Очередь держится отсортированной по имени, поэтому порядок детерминирован.
// Возвращает ErrCyclicDependency, если после обработки остались узлы
// с ненулевым InDegree.
func (g *Graph) topologicalSort() ([]*Node, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	for name, node := range g.Nodes {
		inDegree[name] = node.InDegree
	}

	queue := make([]*Node, len(g.Roots))
	copy(queue, g.Roots)

	order := make([]*Node, 0, len(g.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, dependent := range node.Dependents {
			inDegree[dependent.Name]--
			if inDegree[dependent.Name] == 0 {
				queue = append(queue, dependent)
			}
		}
		sortNodes(queue)
	}

	if len(order) != len(g.Nodes) {
		return nil, ErrCyclicDependency
	}

	return order, nil
}

// verifyInputSlots проверяет, что каждый входной слот каждой стадии
// закрывается output-слотом какой-либо транзитивной зависимости
// или seed-артефактом.
func (g *Graph) verifyInputSlots(spec *domain.PipelineSpec) error {
	seeds := make(map[string]bool, len(spec.Seeds))
	for _, seed := range spec.Seeds {
		seeds[seed.Name] = true
	}

	// Order уже топологический: outputs предков накоплены к моменту проверки.
	reachable := make(map[string]map[string]bool, len(g.Nodes))

	for _, node := range g.Order {
		avail := make(map[string]bool)
		for _, dep := range node.DependsOn {
			for slot := range reachable[dep.Name] {
				avail[slot] = true
			}
			for _, out := range dep.Stage.Outputs {
				avail[out] = true
			}
		}

		for _, in := range node.Stage.Inputs {
			if !avail[in] && !seeds[in] {
				return NewGraphError(node.Name, "inputs",
					fmt.Sprintf("input %q is not produced upstream and is not a seed", in),
					ErrUnboundInput)
			}
		}

		reachable[node.Name] = avail
	}

	return nil
}

// markGated помечает все (транзитивные) зависимые узлы gate-стадии.
func (g *Graph) markGated(spec *domain.PipelineSpec) {
	gateName := spec.GateStage()
	if gateName == "" {
		return
	}
	g.Gate = g.Nodes[gateName]

	var mark func(n *Node)
	mark = func(n *Node) {
		for _, dep := range n.Dependents {
			if !dep.Gated {
				dep.Gated = true
				mark(dep)
			}
		}
	}
	mark(g.Gate)
}

// Ready возвращает стадии, готовые к выполнению, в лексикографическом
// порядке (детерминированность диспетчеризации между запусками).
//
// Стадия готова, если:
// - Все её зависимости завершены успешно (в completed)
// - Сама стадия не в completed и не в excluded
// - Для gated-узлов: gate уже принял promote-решение (gateOpen)
//
// excluded — стадии, которые нельзя диспетчеризовать повторно:
// выполняющиеся, упавшие и пропущенные.
func (g *Graph) Ready(completed, excluded map[string]bool, gateOpen bool) []*Node {
	ready := make([]*Node, 0)

	for _, node := range g.Order {
		if completed[node.Name] || excluded[node.Name] {
			continue
		}

		if node.Gated && !gateOpen {
			continue
		}

		allDepsCompleted := true
		for _, dep := range node.DependsOn {
			if !completed[dep.Name] {
				allDepsCompleted = false
				break
			}
		}

		if allDepsCompleted {
			ready = append(ready, node)
		}
	}

	sortNodes(ready)
	return ready
}

// Downstream возвращает имена всех (транзитивно) зависимых стадий,
// в лексикографическом порядке. Используется для каскадного SKIPPED.
func (g *Graph) Downstream(name string) []string {
	start, exists := g.Nodes[name]
	if !exists {
		return nil
	}

	seen := make(map[string]bool)
	var walk func(n *Node)
	walk = func(n *Node) {
		for _, dep := range n.Dependents {
			if !seen[dep.Name] {
				seen[dep.Name] = true
				walk(dep)
			}
		}
	}
	walk(start)

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Node возвращает узел по имени стадии.
func (g *Graph) Node(name string) *Node {
	return g.Nodes[name]
}

// Size возвращает количество узлов в DAG.
func (g *Graph) Size() int {
	return len(g.Nodes)
}

// sortNodes сортирует узлы лексикографически по имени.
func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Name < nodes[j].Name
	})
}
