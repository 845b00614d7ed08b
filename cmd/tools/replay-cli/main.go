package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/annel0/replistream/internal/codec"
	"github.com/annel0/replistream/internal/logging"
	"github.com/annel0/replistream/internal/replay"
	"github.com/annel0/replistream/internal/replication"
)

func main() {
	var (
		command  = flag.String("cmd", "info", "Команда: info, events, play")
		file     = flag.String("file", "", "Путь к файлу реплея")
		speedExp = flag.Int("speed", 0, "Показатель скорости воспроизведения (2^exp, -3..3)")
		seekMs   = flag.Int64("seek", 0, "Перемотка к базовому времени перед воспроизведением, мс")
	)
	flag.Parse()

	if *file == "" {
		log.Fatalf("❌ Укажите файл реплея: -file path/to/replay.rpls")
	}

	switch *command {
	case "info":
		if err := showInfo(*file); err != nil {
			log.Fatalf("❌ Info failed: %v", err)
		}
	case "events":
		if err := showEvents(*file); err != nil {
			log.Fatalf("❌ Events failed: %v", err)
		}
	case "play":
		if err := play(*file, *speedExp, *seekMs); err != nil {
			log.Fatalf("❌ Play failed: %v", err)
		}
	default:
		log.Fatalf("❌ Неизвестная команда: %s (поддерживаются info, events, play)", *command)
	}
}

// scanStats результат прохода по файлу без воспроизведения
type scanStats struct {
	version    uint16
	records    int
	rawBytes   int64
	durationMs int64
	opcodes    map[replication.Opcode]int
}

// scan читает файл запись за записью и считает команды по опкодам
func scan(path string) (*scanStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var header [replay.HeaderSize]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return nil, fmt.Errorf("заголовок не прочитан: %w", err)
	}
	if binary.LittleEndian.Uint32(header[:4]) != replay.FileMagic {
		return nil, fmt.Errorf("неверная магия файла")
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	stats := &scanStats{
		version: binary.LittleEndian.Uint16(header[4:6]),
		opcodes: make(map[replication.Opcode]int),
	}

	for {
		size, _, err := codec.ReadSizePrefix(f)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("запись %d: %w", stats.records, err)
		}
		compressed := make([]byte, size)
		if _, err := io.ReadFull(f, compressed); err != nil {
			return nil, fmt.Errorf("запись %d усечена: %w", stats.records, err)
		}
		raw, err := dec.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("запись %d: распаковка: %w", stats.records, err)
		}
		stats.records++
		stats.rawBytes += int64(len(raw))
		if err := stats.tally(raw); err != nil {
			return nil, fmt.Errorf("запись %d: %w", stats.records, err)
		}
	}
	return stats, nil
}

// tally разбирает одно транспортное сообщение
func (s *scanStats) tally(raw []byte) error {
	if len(raw) == 0 {
		return fmt.Errorf("пустое сообщение")
	}
	switch raw[0] {
	case replication.MsgSessionReset:
		return nil
	case replication.MsgCorrection:
		s.opcodes[replication.OpDynamicsCorrection]++
		return nil
	case replication.MsgCommandBatch:
		r := codec.NewReader(raw[1:])
		for r.Remaining() > 0 {
			length, err := r.ReadUint16()
			if err != nil {
				return err
			}
			command, err := r.ReadRaw(int(length))
			if err != nil {
				return err
			}
			if len(command) == 0 {
				return fmt.Errorf("пустая команда")
			}
			op := replication.Opcode(command[0])
			s.opcodes[op]++
			if op == replication.OpTimeStep && len(command) >= 3 {
				s.durationMs += int64(binary.LittleEndian.Uint16(command[1:3]))
			}
		}
		return nil
	default:
		return fmt.Errorf("неизвестный тип сообщения %d", raw[0])
	}
}

func showInfo(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	stats, err := scan(path)
	if err != nil {
		return err
	}

	total := 0
	for _, n := range stats.opcodes {
		total += n
	}
	fmt.Printf("Файл:            %s\n", path)
	fmt.Printf("Размер:          %d байт\n", info.Size())
	fmt.Printf("Версия:          %d\n", stats.version)
	fmt.Printf("Записей:         %d\n", stats.records)
	fmt.Printf("Распаковано:     %d байт\n", stats.rawBytes)
	fmt.Printf("Команд:          %d\n", total)
	fmt.Printf("Длительность:    %d мс\n", stats.durationMs)
	return nil
}

func showEvents(path string) error {
	stats, err := scan(path)
	if err != nil {
		return err
	}

	ops := make([]replication.Opcode, 0, len(stats.opcodes))
	for op := range stats.opcodes {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })

	fmt.Printf("%-24s %s\n", "КОМАНДА", "ЧИСЛО")
	for _, op := range ops {
		fmt.Printf("%-24s %d\n", op, stats.opcodes[op])
	}
	return nil
}

// play воспроизводит файл локально в реальном темпе
func play(path string, speedExp int, seekMs int64) error {
	if err := logging.InitDefaultLogger("replay-cli"); err != nil {
		return err
	}
	defer logging.CloseDefaultLogger()

	session, err := replay.Open(path, 0, cliCallbacks{}, nil)
	if err != nil {
		return err
	}
	defer session.Close()

	session.SetSpeedExp(speedExp)
	if seekMs > 0 {
		if err := session.SeekTo(seekMs); err != nil {
			return err
		}
	}

	fmt.Printf("▶ Воспроизведение %s (версия %d)\n", path, session.FileProtocolVersion())
	const tickMs = 16
	ticker := time.NewTicker(tickMs * time.Millisecond)
	defer ticker.Stop()

	lastReport := time.Now()
	for range ticker.C {
		session.Update(tickMs)
		if session.State() == replication.StateEnded || session.EOFReached() {
			break
		}
		if time.Since(lastReport) >= time.Second {
			lastReport = time.Now()
			fmt.Printf("  t=%d мс, сцен=%d, узлов=%d\n",
				session.CurrentTimeMs(), session.Scenes().Len(), session.Nodes().Len())
		}
	}
	fmt.Printf("■ Готово: t=%d мс\n", session.CurrentTimeMs())
	return nil
}

// cliCallbacks печатает заметные события потока
type cliCallbacks struct {
	replication.NopCallbacks
}

func (cliCallbacks) ScreenMessage(top bool, text string) {
	fmt.Printf("  💬 %s\n", text)
}

func (cliCallbacks) PlaySound(name string, looping bool) {
	fmt.Printf("  🔊 %s (loop=%v)\n", name, looping)
}

func (cliCallbacks) SessionEnded(reason string) {
	fmt.Printf("  ⏹ Сессия завершена: %s\n", reason)
}
