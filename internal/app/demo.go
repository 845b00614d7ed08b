package app

import (
	"fmt"
	"math"

	"github.com/annel0/replistream/internal/replication"
	"github.com/annel0/replistream/internal/sim"
)

// Индексы реплицируемых атрибутов орбитального узла
const (
	attrLabel  uint16 = 0 // имя для отладочного оверлея
	attrRadius uint16 = 1 // радиус орбиты
	attrLeader uint16 = 2 // ссылка на ведущий узел
)

// DemoWorld маленькая детерминированная симуляция для демо-сервера:
// арена с орбитальными узлами, у каждого одно твёрдое тело. Служит
// источником командного потока, пока настоящего движка рядом нет.
type DemoWorld struct {
	stream *replication.Stream

	scene    *sim.Scene
	orbiters []*sim.Node
	radii    []float32
	ambient  *sim.Sound
	chime    *sim.Sound

	elapsedMs   int64
	lastChimeMs int64
}

// NewDemoWorld наполняет поток начальным состоянием арены
func NewDemoWorld(stream *replication.Stream, orbiterCount int) (*DemoWorld, error) {
	if orbiterCount <= 0 {
		orbiterCount = 4
	}
	w := &DemoWorld{stream: stream}

	// Ассеты регистрируются раньше ссылающихся на них сущностей
	if err := stream.AddTexture(sim.NewTexture("checker")); err != nil {
		return nil, err
	}
	if err := stream.AddMesh(sim.NewMesh("sphere")); err != nil {
		return nil, err
	}
	if err := stream.AddCollisionMesh(sim.NewCollisionMesh("sphere_hull")); err != nil {
		return nil, err
	}
	if err := stream.AddDataAsset(sim.NewDataAsset("arena_layout", []byte(`{"size":64}`))); err != nil {
		return nil, err
	}
	w.ambient = sim.NewSound("arena_ambience", true)
	if err := stream.AddSound(w.ambient); err != nil {
		return nil, err
	}
	w.chime = sim.NewSound("orbit_chime", false)
	if err := stream.AddSound(w.chime); err != nil {
		return nil, err
	}

	metal := sim.NewMaterial("metal")
	if err := stream.AddMaterial(metal); err != nil {
		return nil, err
	}
	rule := sim.And(
		sim.Leaf("roughness_below", sim.NoStreamID, 0.4),
		sim.Leaf("metalness_above", sim.NoStreamID, 0.7),
	)
	if err := stream.AddMaterialComponent(metal, rule); err != nil {
		return nil, err
	}

	w.scene = sim.NewScene("arena")
	if err := stream.AddScene(w.scene); err != nil {
		return nil, err
	}
	stream.SetForegroundScene(w.scene)

	var leader *sim.Node
	for i := 0; i < orbiterCount; i++ {
		node := sim.NewNode("orbiter")
		node.Bodies = append(node.Bodies, &sim.Body{ID: 0})
		if err := stream.AddNode(node, w.scene); err != nil {
			return nil, err
		}
		radius := float32(4 + 2*i)
		if err := stream.SetNodeAttr(node, attrLabel, sim.StringValue(fmt.Sprintf("orbiter-%d", i))); err != nil {
			return nil, err
		}
		if err := stream.SetNodeAttr(node, attrRadius, sim.FloatValue(radius)); err != nil {
			return nil, err
		}
		if leader != nil {
			if err := stream.SetNodeAttr(node, attrLeader, sim.RefValue(leader.StreamID())); err != nil {
				return nil, err
			}
			if err := stream.ConnectNodeAttr(node, attrRadius, leader, attrRadius); err != nil {
				return nil, err
			}
		}
		w.orbiters = append(w.orbiters, node)
		w.radii = append(w.radii, radius)
		leader = node
	}

	stream.PlaySound(w.ambient)
	if err := stream.ScreenMessage(true, "арена запущена"); err != nil {
		return nil, err
	}
	return w, nil
}

// Step продвигает симуляцию на dtMs и реплицирует изменения
func (w *DemoWorld) Step(dtMs int64) error {
	w.elapsedMs += dtMs
	t := float64(w.elapsedMs) / 1000.0

	for i, node := range w.orbiters {
		radius := float64(w.radii[i])
		omega := 0.5 + 0.25*float64(i)
		angle := omega * t

		body := node.Bodies[0]
		body.State.Position = [3]float32{
			float32(radius * math.Cos(angle)),
			1,
			float32(radius * math.Sin(angle)),
		}
		body.State.LinearVel = [3]float32{
			float32(-radius * omega * math.Sin(angle)),
			0,
			float32(radius * omega * math.Cos(angle)),
		}
		body.State.Orientation = [4]float32{0, float32(math.Sin(angle / 2)), 0, float32(math.Cos(angle / 2))}
		body.State.AngularVel = [3]float32{0, float32(omega), 0}
	}

	// Раз в пять секунд — точечный звук от первого узла
	if w.elapsedMs-w.lastChimeMs >= 5000 {
		w.lastChimeMs = w.elapsedMs
		pos := w.orbiters[0].Bodies[0].State.Position
		w.stream.PlaySoundAt(w.chime, pos[0], pos[1], pos[2])
	}

	if err := w.stream.StepScene(w.scene, dtMs); err != nil {
		return err
	}
	return w.stream.SetTime(w.elapsedMs)
}

// Scene возвращает сцену арены
func (w *DemoWorld) Scene() *sim.Scene { return w.scene }
