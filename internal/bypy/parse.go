package bypy

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	LabelQuota = "Quota:"
	LabelUsed  = "Used:"

	listTimeLayout = "2006-01-02 15:04:05"
)

// ParseCapacity 解析 info 输出中的容量，单位GB
//
//	Quota: 2.005TB
//	Used: 740.443GB
func ParseCapacity(output, label string) (int, error) {
	idx := strings.Index(output, label)
	if idx < 0 {
		return 0, fmt.Errorf("%s not found in output", strings.TrimSuffix(label, ":"))
	}
	value := output[idx+len(label):]
	if nl := strings.Index(value, "\n"); nl >= 0 {
		value = value[:nl]
	}
	value = strings.TrimSpace(value)

	multiplier := 1.0
	switch {
	case strings.HasSuffix(value, "TB"):
		value = strings.TrimSuffix(value, "TB")
		multiplier = 1024
	case strings.HasSuffix(value, "GB"):
		value = strings.TrimSuffix(value, "GB")
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s value %q: %w", strings.TrimSuffix(label, ":"), value, err)
	}
	return int(f * multiplier), nil
}

// CompareResult compare 命令的统计结果
type CompareResult struct {
	LocalOnly  int
	RemoteOnly int
}

// Synced 本地和远程完全一致
func (r CompareResult) Synced() bool {
	return r.LocalOnly == 0 && r.RemoteOnly == 0
}

func countAfterColon(line string) (int, error) {
	parts := strings.SplitN(line, ":", 2)
	if len(parts) < 2 {
		return 0, fmt.Errorf("missing count in %q", line)
	}
	return strconv.Atoi(strings.TrimSpace(parts[1]))
}

// ParseCompare 解析 compare 输出中的 "Local only: N" 和 "Remote only: N"
func ParseCompare(output string) (CompareResult, error) {
	var res CompareResult
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "Local only:"):
			n, err := countAfterColon(line)
			if err != nil {
				return CompareResult{}, fmt.Errorf("parse local only: %w", err)
			}
			res.LocalOnly = n
		case strings.Contains(line, "Remote only:"):
			n, err := countAfterColon(line)
			if err != nil {
				return CompareResult{}, fmt.Errorf("parse remote only: %w", err)
			}
			res.RemoteOnly = n
		}
	}
	return res, scanner.Err()
}

// ParseLocalOnly 取第一个能解析的 "Local only" 数量，解析失败返回0
func ParseLocalOnly(output string) int {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "Local only:") {
			continue
		}
		if n, err := countAfterColon(line); err == nil {
			return n
		}
	}
	return 0
}

// ParseLatestUpload 从 list 输出中找出最新的 .tar 文件时间
//
//	F backup.tar 1048576 2024-05-03, 08:15:00 d41d8cd98f00b204e9800998ecf8427e
//
// 时间按UTC解析，再转换到 loc。没有 .tar 记录时 ok 为 false。
func ParseLatestUpload(output string, loc *time.Location) (latest time.Time, ok bool, err error) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, ".tar") {
			continue
		}

		var dateStr, timeStr string
		for _, part := range strings.Fields(line) {
			if strings.HasPrefix(part, "202") {
				dateStr = strings.TrimRight(part, ",")
			} else if strings.Contains(part, ":") {
				timeStr = part
			}
		}
		if dateStr == "" || timeStr == "" {
			continue
		}

		t, err := time.ParseInLocation(listTimeLayout, dateStr+" "+timeStr, time.UTC)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse upload time %q: %w", dateStr+" "+timeStr, err)
		}
		if !ok || t.After(latest) {
			latest = t
			ok = true
		}
	}
	if !ok {
		return time.Time{}, false, nil
	}
	if loc != nil {
		latest = latest.In(loc)
	}
	return latest, true, nil
}
