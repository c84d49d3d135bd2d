package session

// Drain прокачивает поток с ручной подкачкой: повторяет чтение буфером
// фиксированного размера, пока не придет пустой фрагмент, и склеивает
// результат. Используется без изменений для журнала, листинга и файлов -
// ограничений на объем нет, flow control задает размер буфера канала.
func Drain(read func(n int) ([]byte, error), n int) ([]byte, error) {
	if n <= 0 {
		n = DefaultBufferSize
	}

	var result []byte
	for {
		chunk, err := read(n)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			return result, nil
		}
		result = append(result, chunk...)
	}
}
