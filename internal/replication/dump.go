package replication

import (
	"sort"

	"github.com/annel0/replistream/internal/sim"
)

// dumpSource отдаёт живые сущности для дампа полного состояния.
// Реализуется и энкодером (таблицы хоста), и декодером (зеркальные
// таблицы) — формат дампа при этом один.
type dumpSource interface {
	liveScenes() []*sim.Scene
	liveDumpNodes() []*sim.Node
	liveMaterials() []*sim.Material
	liveTextures() []*sim.Texture
	liveMeshes() []*sim.Mesh
	liveSounds() []*sim.Sound
	liveCollisionMeshes() []*sim.CollisionMesh
	liveDataAssets() []*sim.DataAsset
}

// dumpEntities пишет полное состояние в поток-дамп в порядке
// зависимостей: ассеты и материалы раньше узлов (значения ссылочных
// атрибутов могут указывать на материалы), сцены раньше узлов,
// создание всех узлов раньше значений атрибутов (ссылки между узлами
// могут указывать вперёд).
func dumpEntities(dst *Stream, src dumpSource) error {
	for _, t := range src.liveTextures() {
		if err := dst.AddTexture(t); err != nil {
			return err
		}
	}
	for _, m := range src.liveMeshes() {
		if err := dst.AddMesh(m); err != nil {
			return err
		}
	}
	for _, snd := range src.liveSounds() {
		if err := dst.AddSound(snd); err != nil {
			return err
		}
	}
	for _, c := range src.liveCollisionMeshes() {
		if err := dst.AddCollisionMesh(c); err != nil {
			return err
		}
	}
	for _, d := range src.liveDataAssets() {
		if err := dst.AddDataAsset(d); err != nil {
			return err
		}
	}
	for _, mat := range src.liveMaterials() {
		if err := dst.AddMaterial(mat); err != nil {
			return err
		}
		for _, rule := range mat.Components {
			if err := dst.AddMaterialComponent(mat, rule); err != nil {
				return err
			}
		}
	}

	for _, scene := range src.liveScenes() {
		if err := dst.AddScene(scene); err != nil {
			return err
		}
		if scene.Foreground {
			dst.SetForegroundScene(scene)
		}
	}

	nodes := src.liveDumpNodes()
	for _, node := range nodes {
		// В режиме дампа сцена не используется для назначения id
		if err := dst.AddNode(node, nil); err != nil {
			return err
		}
	}
	for _, node := range nodes {
		// Сортировка индексов атрибутов даёт детерминированный дамп
		indices := make([]int, 0, len(node.Attrs))
		for idx := range node.Attrs {
			indices = append(indices, int(idx))
		}
		sort.Ints(indices)
		for _, idx := range indices {
			if err := dst.SetNodeAttr(node, uint16(idx), node.Attrs[uint16(idx)]); err != nil {
				return err
			}
		}
		for _, conn := range node.Connections {
			dst.beginCommand(OpNodeAttrConnect)
			dst.cmd.WriteInt32(node.StreamID())
			dst.cmd.WriteUint16(conn.AttrIndex)
			dst.cmd.WriteInt32(conn.SrcNode)
			dst.cmd.WriteUint16(conn.SrcAttr)
			if err := dst.endCommand(); err != nil {
				return err
			}
		}
	}
	return nil
}

// streamDumpSource источник дампа над таблицами хоста
type streamDumpSource struct{ s *Stream }

func (d streamDumpSource) liveScenes() []*sim.Scene {
	live := d.s.scenes.Live()
	out := make([]*sim.Scene, len(live))
	for i, e := range live {
		out[i] = e.(*sim.Scene)
	}
	return out
}

func (d streamDumpSource) liveDumpNodes() []*sim.Node { return d.s.liveNodes() }

func (d streamDumpSource) liveMaterials() []*sim.Material {
	live := d.s.materials.Live()
	out := make([]*sim.Material, len(live))
	for i, e := range live {
		out[i] = e.(*sim.Material)
	}
	return out
}

func (d streamDumpSource) liveTextures() []*sim.Texture {
	live := d.s.textures.Live()
	out := make([]*sim.Texture, len(live))
	for i, e := range live {
		out[i] = e.(*sim.Texture)
	}
	return out
}

func (d streamDumpSource) liveMeshes() []*sim.Mesh {
	live := d.s.meshes.Live()
	out := make([]*sim.Mesh, len(live))
	for i, e := range live {
		out[i] = e.(*sim.Mesh)
	}
	return out
}

func (d streamDumpSource) liveSounds() []*sim.Sound {
	live := d.s.sounds.Live()
	out := make([]*sim.Sound, len(live))
	for i, e := range live {
		out[i] = e.(*sim.Sound)
	}
	return out
}

func (d streamDumpSource) liveCollisionMeshes() []*sim.CollisionMesh {
	live := d.s.collisionMeshes.Live()
	out := make([]*sim.CollisionMesh, len(live))
	for i, e := range live {
		out[i] = e.(*sim.CollisionMesh)
	}
	return out
}

func (d streamDumpSource) liveDataAssets() []*sim.DataAsset {
	live := d.s.dataAssets.Live()
	out := make([]*sim.DataAsset, len(live))
	for i, e := range live {
		out[i] = e.(*sim.DataAsset)
	}
	return out
}
